package payment

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/ticket"
	"TicketChain/internal/wallet"
)

const (
	testEventID   = "event-1"
	testEventCap  = int64(500)
	testPayTo     = "0x1111111111111111111111111111111111111111"
	testBuyer     = "0x2222222222222222222222222222222222222222"
	testAmountUSD = 1.00
)

type fixture struct {
	ledger   *inventory.Ledger
	intents  intent.Store
	tickets  ticket.Store
	gateway  *wallet.MemoryGateway
	verifier *Verifier
	engine   *Engine
	intent   *intent.PaymentIntent
}

// newFixture 预订 2 张票并建立对应的支付意向（$1.00 → 1,000,000 单位）。
func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()

	ledger := inventory.NewLedger()
	ledger.Register(testEventID, testEventCap)
	res, err := ledger.Reserve(testEventID, 2)
	if err != nil {
		t.Fatalf("预订失败: %v", err)
	}

	tickets := ticket.NewMemoryStore()
	tk := &ticket.Ticket{
		ID:            "tk-" + res.ID,
		EventID:       testEventID,
		ReservationID: res.ID,
		Quantity:      2,
		HolderContact: testBuyer,
		Status:        ticket.StatusPendingPayment,
	}
	if err := tickets.Create(ctx, tk); err != nil {
		t.Fatalf("创建票据失败: %v", err)
	}

	units, err := intent.LedgerUnits(testAmountUSD)
	if err != nil {
		t.Fatalf("换算金额失败: %v", err)
	}
	now := time.Now()
	in := &intent.PaymentIntent{
		ID:                "in-" + res.ID,
		EventID:           testEventID,
		ReservationID:     res.ID,
		TicketID:          tk.ID,
		Quantity:          2,
		BuyerContact:      testBuyer,
		AmountUSD:         testAmountUSD,
		AmountLedgerUnits: units,
		Currency:          "USDC",
		PayToAddress:      testPayTo,
		Status:            intent.StatusPending,
		ExpiresAt:         now.Add(ttl).Unix(),
	}
	intents := intent.NewMemoryStore()
	if err := intents.Create(ctx, in); err != nil {
		t.Fatalf("创建支付意向失败: %v", err)
	}

	gateway := wallet.NewMemoryGateway("0x3333333333333333333333333333333333333333", "memory", 10_000_000)
	return &fixture{
		ledger:   ledger,
		intents:  intents,
		tickets:  tickets,
		gateway:  gateway,
		verifier: NewVerifier(intents, gateway, 2, 0.01),
		engine:   NewEngine(intents, tickets, ledger),
		intent:   in,
	}
}

func (f *fixture) deposit(t *testing.T, amount, confirmations int64) string {
	t.Helper()
	return f.gateway.Deposit(testBuyer, testPayTo, amount, confirmations)
}

func TestSettleIssuesTicketOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.deposit(t, 1_000_000, 3)
	result, err := f.verifier.CheckIntent(ctx, f.intent.ID)
	if err != nil {
		t.Fatalf("核验失败: %v", err)
	}
	if !result.Matched {
		t.Fatalf("足额付款应当匹配: %+v", result)
	}

	first, err := f.engine.Settle(ctx, f.intent.ID, result)
	if err != nil {
		t.Fatalf("首次结算失败: %v", err)
	}
	if first.AlreadySettled {
		t.Fatalf("首次结算不应标记为重复")
	}
	if first.Ticket == nil || first.Ticket.QRCode == "" {
		t.Fatalf("结算应签发入场码: %+v", first.Ticket)
	}
	if first.Ticket.Status != ticket.StatusPaid {
		t.Fatalf("票据状态 = %s, 期望 paid", first.Ticket.Status)
	}

	// 重复结算返回同一张票和同一个入场码，不产生新副作用。
	second, err := f.engine.Settle(ctx, f.intent.ID, result)
	if err != nil {
		t.Fatalf("重复结算失败: %v", err)
	}
	if !second.AlreadySettled {
		t.Fatalf("重复结算应标记 AlreadySettled")
	}
	if second.Ticket == nil || second.Ticket.QRCode != first.Ticket.QRCode {
		t.Fatalf("重复结算返回了不同的入场码")
	}

	available, err := f.ledger.Available(testEventID)
	if err != nil {
		t.Fatalf("查询库存失败: %v", err)
	}
	if available != testEventCap-2 {
		t.Fatalf("可售库存 = %d, 期望 %d", available, testEventCap-2)
	}

	stored, err := f.intents.Get(ctx, f.intent.ID)
	if err != nil {
		t.Fatalf("读取意向失败: %v", err)
	}
	if stored.Status != intent.StatusCompleted || stored.ConfirmedTxHash != result.TxHash {
		t.Fatalf("意向终态异常: %+v", stored)
	}
}

func TestConcurrentSettleSingleWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.deposit(t, 1_000_000, 5)
	result, err := f.verifier.CheckIntent(ctx, f.intent.ID)
	if err != nil || !result.Matched {
		t.Fatalf("核验失败: %v / %+v", err, result)
	}

	const callers = 16
	outcomes := make([]*Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			out, err := f.engine.Settle(ctx, f.intent.ID, result)
			if err != nil {
				t.Errorf("并发结算失败: %v", err)
				return
			}
			outcomes[slot] = out
		}(i)
	}
	wg.Wait()

	winners := 0
	var qr string
	for _, out := range outcomes {
		if out == nil || out.Ticket == nil {
			t.Fatalf("缺失结算结果")
		}
		if !out.AlreadySettled {
			winners++
		}
		if qr == "" {
			qr = out.Ticket.QRCode
		} else if out.Ticket.QRCode != qr {
			t.Fatalf("并发结算产生了不同的入场码")
		}
	}
	if winners != 1 {
		t.Fatalf("赢得结算的调用数 = %d, 期望恰好 1", winners)
	}

	available, _ := f.ledger.Available(testEventID)
	if available != testEventCap-2 {
		t.Fatalf("可售库存 = %d, 期望 %d", available, testEventCap-2)
	}
}

func TestExpireReleasesInventory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	ctx := context.Background()

	reaper := NewReaper(f.intents, f.engine, time.Minute)
	expired, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("过期扫描失败: %v", err)
	}
	if expired != 1 {
		t.Fatalf("过期数量 = %d, 期望 1", expired)
	}

	available, _ := f.ledger.Available(testEventID)
	if available != testEventCap {
		t.Fatalf("过期后库存未完全释放: %d", available)
	}

	stored, _ := f.intents.Get(ctx, f.intent.ID)
	if stored.Status != intent.StatusExpired {
		t.Fatalf("意向状态 = %s, 期望 expired", stored.Status)
	}
	tk, _ := f.tickets.Get(ctx, f.intent.TicketID)
	if tk.Status != ticket.StatusCancelled {
		t.Fatalf("票据状态 = %s, 期望 cancelled", tk.Status)
	}

	// 迟到的付款不能复活已过期的意向。
	f.deposit(t, 2_000_000, 5)
	result, err := f.verifier.CheckIntent(ctx, f.intent.ID)
	if err != nil {
		t.Fatalf("核验失败: %v", err)
	}
	if _, err := f.engine.Settle(ctx, f.intent.ID, result); !stdErrors.Is(err, intent.ErrIntentExpired) {
		t.Fatalf("过期意向结算应返回 ErrIntentExpired, 实际 %v", err)
	}
}

func TestSettleAfterDeadlineExpiresIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()

	f.deposit(t, 1_000_000, 3)
	result, err := f.verifier.CheckIntent(ctx, f.intent.ID)
	if err != nil || !result.Matched {
		t.Fatalf("核验失败: %v / %+v", err, result)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := f.engine.Settle(ctx, f.intent.ID, result); !stdErrors.Is(err, intent.ErrIntentExpired) {
		t.Fatalf("超时结算应返回 ErrIntentExpired, 实际 %v", err)
	}
	available, _ := f.ledger.Available(testEventID)
	if available != testEventCap {
		t.Fatalf("超时结算后库存未释放: %d", available)
	}
}

func TestSettleRequiresMatchedResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Hour)
	if _, err := f.engine.Settle(context.Background(), f.intent.ID, &VerificationResult{IntentID: f.intent.ID}); err == nil {
		t.Fatalf("未匹配的核验结果不应触发结算")
	}
}
