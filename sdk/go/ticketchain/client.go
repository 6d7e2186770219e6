package ticketchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the TicketChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Event describes an event listing together with live availability.
type Event struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	City         string  `json:"city"`
	VenueID      string  `json:"venue_id"`
	Date         string  `json:"date"`
	PriceUSD     float64 `json:"price_usd"`
	TotalTickets int64   `json:"total_tickets"`
	Available    int64   `json:"available"`
}

// Venue describes an event venue.
type Venue struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Address  string `json:"address"`
	Capacity int64  `json:"capacity"`
}

// ReserveRequest is the payload required to reserve tickets. Either EventID
// or EventName must be provided; EventName tolerates minor misspellings.
type ReserveRequest struct {
	EventID      string `json:"event_id,omitempty"`
	EventName    string `json:"event_name,omitempty"`
	Quantity     int64  `json:"quantity"`
	BuyerContact string `json:"buyer_contact,omitempty"`
}

// Reservation is the payment instruction returned for a successful hold.
type Reservation struct {
	IntentID          string  `json:"intent_id"`
	TicketID          string  `json:"ticket_id"`
	Event             Event   `json:"event"`
	Quantity          int64   `json:"quantity"`
	AmountUSD         float64 `json:"amount_usd"`
	AmountLedgerUnits int64   `json:"amount_ledger_units"`
	Currency          string  `json:"currency"`
	PayToAddress      string  `json:"pay_to_address"`
	ExpiresAt         int64   `json:"expires_at"`
}

// Ticket is the buyer-visible ticket record. QRCode is only populated once
// the backing payment intent settles.
type Ticket struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	Quantity      int64  `json:"quantity"`
	HolderContact string `json:"holder_contact,omitempty"`
	Status        string `json:"status"`
	QRCode        string `json:"qr_code,omitempty"`
}

// PaymentStatus reports where a payment intent currently stands.
type PaymentStatus struct {
	IntentID      string  `json:"intent_id"`
	Status        string  `json:"status"`
	Matched       bool    `json:"matched"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Confirmations int64   `json:"confirmations,omitempty"`
	ExpiresAt     int64   `json:"expires_at"`
	Ticket        *Ticket `json:"ticket,omitempty"`
}

// SettlementOutcome is returned when a transaction confirmation settles (or
// has already settled) a payment intent.
type SettlementOutcome struct {
	IntentID       string  `json:"intent_id"`
	Status         string  `json:"status"`
	TxHash         string  `json:"tx_hash,omitempty"`
	Confirmations  int64   `json:"confirmations,omitempty"`
	Ticket         *Ticket `json:"ticket,omitempty"`
	AlreadySettled bool    `json:"already_settled,omitempty"`
}

// Balance reports the ledger-unit balance held at an address. Address is
// always the address that was actually queried; the server fills in its
// own wallet address when the query omitted one.
type Balance struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	Network string `json:"network"`
}

// Disbursement is the receipt for an outbound transfer. Amount is the
// ledger-unit value derived server-side from AmountUSD.
type Disbursement struct {
	TxHash    string  `json:"tx_hash"`
	To        string  `json:"to"`
	AmountUSD float64 `json:"amount_usd"`
	Amount    int64   `json:"amount"`
	FeeEst    int64   `json:"fee_estimate"`
	Memo      string  `json:"memo,omitempty"`
	Network   string  `json:"network"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ticketchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ticketchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the TicketChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// ListEvents returns events filtered by category and city; empty filters
// match everything.
func (c *Client) ListEvents(ctx context.Context, category, city string) ([]Event, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category", category)
	}
	if city != "" {
		query.Set("city", city)
	}
	endpoint := "/api/v1/events"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var events []Event
	if err := c.get(ctx, endpoint, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListVenues returns venues, optionally filtered by city.
func (c *Client) ListVenues(ctx context.Context, city string) ([]Venue, error) {
	endpoint := "/api/v1/venues"
	if city != "" {
		endpoint += "?city=" + url.QueryEscape(city)
	}
	var venues []Venue
	if err := c.get(ctx, endpoint, &venues); err != nil {
		return nil, err
	}
	return venues, nil
}

// ReserveTickets places a hold on inventory and returns payment instructions.
func (c *Client) ReserveTickets(ctx context.Context, req ReserveRequest) (Reservation, error) {
	var res Reservation
	if err := c.post(ctx, "/api/v1/reservations", req, &res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// CheckPaymentStatus reports the current state of a payment intent. When the
// payment has arrived on chain the server settles it as part of this call.
func (c *Client) CheckPaymentStatus(ctx context.Context, intentID string) (PaymentStatus, error) {
	var status PaymentStatus
	endpoint := "/api/v1/intents/" + url.PathEscape(intentID)
	if err := c.get(ctx, endpoint, &status); err != nil {
		return PaymentStatus{}, err
	}
	return status, nil
}

// ConfirmTransaction asks the server to settle an intent against a specific
// transaction hash. The server re-verifies the transaction independently.
func (c *Client) ConfirmTransaction(ctx context.Context, intentID, txHash string) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	endpoint := fmt.Sprintf("/api/v1/intents/%s/confirm", url.PathEscape(intentID))
	if err := c.post(ctx, endpoint, map[string]string{"tx_hash": txHash}, &outcome); err != nil {
		return SettlementOutcome{}, err
	}
	return outcome, nil
}

// ListTickets returns tickets filtered by status; an empty status matches all.
func (c *Client) ListTickets(ctx context.Context, status string, limit int) ([]Ticket, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "/api/v1/tickets"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var tickets []Ticket
	if err := c.get(ctx, endpoint, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// WalletBalance returns the balance at an address; an empty address queries
// the server's own settlement wallet.
func (c *Client) WalletBalance(ctx context.Context, address string) (Balance, error) {
	endpoint := "/api/v1/wallet/balance"
	if address != "" {
		endpoint += "?address=" + url.QueryEscape(address)
	}
	var balance Balance
	if err := c.get(ctx, endpoint, &balance); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// SendDisbursement transfers funds from the server wallet. The amount is
// given in USD; the server converts it to ledger units exactly once. The
// memo travels with the receipt and audit trail, not on chain.
func (c *Client) SendDisbursement(ctx context.Context, to string, amountUSD float64, memo string) (Disbursement, error) {
	var out Disbursement
	payload := map[string]any{"to": to, "amount_usd": amountUSD, "memo": memo}
	if err := c.post(ctx, "/api/v1/wallet/disbursements", payload, &out); err != nil {
		return Disbursement{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
