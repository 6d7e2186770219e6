package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TicketChain/internal/booking"
	"TicketChain/internal/catalog"
	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/payment"
	"TicketChain/internal/ticket"
	"TicketChain/internal/wallet"
)

const testWalletAddress = "0x3333333333333333333333333333333333333333"

func newTestServer(t *testing.T) (*httptest.Server, *wallet.MemoryGateway) {
	t.Helper()
	provider := catalog.NewStaticProvider(catalog.DefaultEvents(), catalog.DefaultVenues())
	ledger := inventory.NewLedger()
	intents := intent.NewMemoryStore()
	tickets := ticket.NewMemoryStore()
	gateway := wallet.NewMemoryGateway(testWalletAddress, "memory", 50_000_000)

	service, err := booking.NewService(booking.Config{
		Catalog:   provider,
		Ledger:    ledger,
		Intents:   intents,
		Tickets:   tickets,
		Gateway:   gateway,
		Verifier:  payment.NewVerifier(intents, gateway, 2, 0.01),
		Engine:    payment.NewEngine(intents, tickets, ledger),
		IntentTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	srv := httptest.NewServer(NewServer("", service).Handler())
	t.Cleanup(srv.Close)
	return srv, gateway
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("编码请求失败: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	return out
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	srv, gateway := newTestServer(t)

	// 列出活动。
	resp, err := http.Get(srv.URL + "/api/v1/events?city=San%20Francisco")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	events := decode[[]booking.EventAvailability](t, resp)
	if len(events) != 3 {
		t.Fatalf("旧金山活动数 = %d, 期望 3", len(events))
	}

	// 预订两张 event-1。
	resp = postJSON(t, srv.URL+"/api/v1/reservations", booking.ReserveRequest{
		EventID:  "event-1",
		Quantity: 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("预订状态码 = %d", resp.StatusCode)
	}
	res := decode[booking.Reservation](t, resp)
	if res.AmountLedgerUnits != 2_000_000 {
		t.Fatalf("账本单位 = %d, 期望 2000000", res.AmountLedgerUnits)
	}

	// 未付款时查询状态。
	resp, err = http.Get(srv.URL + "/api/v1/intents/" + res.IntentID)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	status := decode[booking.PaymentStatus](t, resp)
	if status.Status != intent.StatusPending {
		t.Fatalf("状态 = %s, 期望 pending", status.Status)
	}

	// 付款后通过 confirm 结算。
	hash := gateway.Deposit("0x2222222222222222222222222222222222222222", testWalletAddress, 2_000_000, 3)
	resp = postJSON(t, fmt.Sprintf("%s/api/v1/intents/%s/confirm", srv.URL, res.IntentID), map[string]string{"tx_hash": hash})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("确认状态码 = %d", resp.StatusCode)
	}
	outcome := decode[payment.Outcome](t, resp)
	if outcome.Ticket == nil || outcome.Ticket.QRCode == "" {
		t.Fatalf("确认成功应返回入场码: %+v", outcome)
	}

	// 已支付票列表。
	resp, err = http.Get(srv.URL + "/api/v1/tickets?status=paid")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	paid := decode[[]*ticket.Ticket](t, resp)
	if len(paid) != 1 {
		t.Fatalf("已支付票数 = %d, 期望 1", len(paid))
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// 不存在的意向 → 404。
	resp, err := http.Get(srv.URL + "/api/v1/intents/unknown")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("状态码 = %d, 期望 404", resp.StatusCode)
	}

	// 超量预订 → 409。
	resp = postJSON(t, srv.URL+"/api/v1/reservations", booking.ReserveRequest{
		EventID:  "event-4",
		Quantity: 9_999,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("状态码 = %d, 期望 409", resp.StatusCode)
	}

	// 伪造哈希 → 402。
	reserve := postJSON(t, srv.URL+"/api/v1/reservations", booking.ReserveRequest{EventID: "event-1", Quantity: 1})
	res := decode[booking.Reservation](t, reserve)
	resp = postJSON(t, fmt.Sprintf("%s/api/v1/intents/%s/confirm", srv.URL, res.IntentID), map[string]string{"tx_hash": "0xforged"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("状态码 = %d, 期望 402", resp.StatusCode)
	}

	// 非法打款地址 → 400。
	resp = postJSON(t, srv.URL+"/api/v1/wallet/disbursements", map[string]any{"to": "nope", "amount_usd": 0.01})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("状态码 = %d, 期望 400", resp.StatusCode)
	}
}

func TestWalletBalanceEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/wallet/balance")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	out := decode[booking.WalletBalance](t, resp)
	if out.Balance != 50_000_000 {
		t.Fatalf("余额 = %d, 期望 50000000", out.Balance)
	}
	// 没带 address 查询钱包自身，返回体必须回填实际地址与网络名。
	if out.Address != testWalletAddress {
		t.Fatalf("address = %q, 期望 %q", out.Address, testWalletAddress)
	}
	if out.Network != "memory" {
		t.Fatalf("network = %q, 期望 memory", out.Network)
	}
}

func TestDisbursementEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/wallet/disbursements", disburseRequest{
		To:        "0x5555555555555555555555555555555555555555",
		AmountUSD: 1.50,
		Memo:      "refund in-42",
	})
	out := decode[booking.Disbursement](t, resp)
	if out.Amount != 1_500_000 || out.AmountUSD != 1.50 {
		t.Fatalf("打款金额异常: %+v", out)
	}
	if out.Memo != "refund in-42" {
		t.Fatalf("回执应携带 memo: %+v", out)
	}
	if out.TxHash == "" || out.Network != "memory" {
		t.Fatalf("打款回执异常: %+v", out)
	}
}

func TestMetricsExposition(t *testing.T) {
	srv, _ := newTestServer(t)

	// 先打一次业务请求，让采集器有数据可渲染。
	resp, err := http.Get(srv.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("拉取指标失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("状态码 = %d, 期望 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取指标失败: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "ticketchain_http_requests_total") {
		t.Fatalf("指标输出缺少请求计数:\n%s", text)
	}
	if !strings.Contains(text, `handler="GET /api/v1/events"`) {
		t.Fatalf("指标输出缺少按路由的标签:\n%s", text)
	}
	// /metrics 自身不应计入请求指标。
	if strings.Contains(text, `handler="GET /metrics"`) {
		t.Fatalf("/metrics 不应出现在请求计数中:\n%s", text)
	}
}
