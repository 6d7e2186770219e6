package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"TicketChain/sdk/go/ticketchain"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/reservations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ticketchain.Reservation{
			IntentID:          "in-demo",
			TicketID:          "tk-demo",
			Quantity:          2,
			AmountUSD:         2.00,
			AmountLedgerUnits: 2_000_000,
			Currency:          "USDC",
			PayToAddress:      "0x1111111111111111111111111111111111111111",
			ExpiresAt:         time.Now().Add(15 * time.Minute).Unix(),
		})
	})
	mux.HandleFunc("/api/v1/intents/in-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ticketchain.PaymentStatus{
			IntentID:      "in-demo",
			Status:        "completed",
			Matched:       true,
			TxHash:        "0xdemo",
			Confirmations: 3,
			Ticket:        &ticketchain.Ticket{ID: "tk-demo", Status: "paid", QRCode: "tc1:tk-demo:example"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := ticketchain.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.ReserveTickets(ctx, ticketchain.ReserveRequest{
		EventID:  "event-1",
		Quantity: 2,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("reserved %d tickets, pay %d units to %s\n", res.Quantity, res.AmountLedgerUnits, res.PayToAddress)

	status, err := client.CheckPaymentStatus(ctx, res.IntentID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("intent %s is %s, qr=%s\n", status.IntentID, status.Status, status.Ticket.QRCode)
}
