package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/observability/alerting"
)

func waitForStatus(t *testing.T, store intent.Store, id string, want intent.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		in, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("读取意向失败: %v", err)
		}
		if in.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	in, _ := store.Get(context.Background(), id)
	t.Fatalf("等待状态 %s 超时, 当前 %s", want, in.Status)
}

func TestPollerSettlesFromQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Hour)
	f.deposit(t, 1_000_000, 3)

	queue := NewMemoryQueue(8)
	p := NewPoller(f.intents, f.verifier, f.engine, queue,
		WithPollerWorkers(2),
		WithPollerInterval(25*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	// 调度循环自己也会投递，这里直接投递一次加快测试。
	if err := queue.Publish(ctx, f.intent.ID); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	waitForStatus(t, f.intents, f.intent.ID, intent.StatusCompleted)
	cancel()
	<-done

	tk, err := f.tickets.Get(context.Background(), f.intent.TicketID)
	if err != nil {
		t.Fatalf("读取票据失败: %v", err)
	}
	if tk.QRCode == "" {
		t.Fatalf("后台结算应签发入场码")
	}
}

func TestPollerExpiresOverdueIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)

	queue := NewMemoryQueue(8)
	p := NewPoller(f.intents, f.verifier, f.engine, queue,
		WithPollerInterval(25*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	if err := queue.Publish(ctx, f.intent.ID); err != nil {
		t.Fatalf("投递失败: %v", err)
	}
	waitForStatus(t, f.intents, f.intent.ID, intent.StatusExpired)
	cancel()
	<-done

	available, _ := f.ledger.Available(testEventID)
	if available != testEventCap {
		t.Fatalf("过期后库存未释放: %d", available)
	}
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (a *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) snapshot() []alerting.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alerting.Event(nil), a.events...)
}

func TestPollerAlertsOnGatewayOutage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Hour)
	alerter := &recordingAlerter{}
	p := NewPoller(f.intents, f.verifier, f.engine, NewMemoryQueue(8),
		WithPollerAlerter(alerter))

	f.gateway.SetUnavailable(true)
	if err := p.handle(context.Background(), f.intent.ID); err == nil {
		t.Fatal("网关中断应作为可重试错误返回")
	}

	events := alerter.snapshot()
	if len(events) != 1 {
		t.Fatalf("告警数量 = %d, 期望 1", len(events))
	}
	if events[0].Code != xerrors.CodeGatewayUnavailable {
		t.Fatalf("告警错误码 = %s", events[0].Code)
	}
	if events[0].IntentID != f.intent.ID {
		t.Fatalf("告警应携带意向 ID: %+v", events[0])
	}

	// 网关恢复后不再产生新告警，意向照常结算。
	f.gateway.SetUnavailable(false)
	f.deposit(t, 1_000_000, 3)
	if err := p.handle(context.Background(), f.intent.ID); err != nil {
		t.Fatalf("核验失败: %v", err)
	}
	if got := alerter.snapshot(); len(got) != 1 {
		t.Fatalf("恢复后不应追加告警, 实际 %d", len(got))
	}
	in, err := f.intents.Get(context.Background(), f.intent.ID)
	if err != nil {
		t.Fatalf("读取意向失败: %v", err)
	}
	if in.Status != intent.StatusCompleted {
		t.Fatalf("意向状态 = %s, 期望 completed", in.Status)
	}
}
