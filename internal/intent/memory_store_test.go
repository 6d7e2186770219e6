package intent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newPendingIntent(id string) *PaymentIntent {
	return &PaymentIntent{
		ID:                id,
		EventID:           "event-1",
		ReservationID:     "res-" + id,
		TicketID:          "ticket-" + id,
		Quantity:          2,
		AmountUSD:         1.00,
		AmountLedgerUnits: 1_000_000,
		Currency:          "USDC",
		PayToAddress:      "0x8af52793B08843D1D0f4ee36964fCe986e667836",
		Status:            StatusPending,
		ExpiresAt:         time.Now().Add(15 * time.Minute).Unix(),
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	in := newPendingIntent("i1")
	if err := store.Create(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newPendingIntent("i1")); !errors.Is(err, ErrIntentConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	got, err := store.Get(ctx, "i1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AmountLedgerUnits != 1_000_000 || got.Status != StatusPending {
		t.Fatalf("unexpected intent: %+v", got)
	}

	// 返回的是副本，外部修改不应污染存储。
	got.Status = StatusFailed
	again, _ := store.Get(ctx, "i1")
	if again.Status != StatusPending {
		t.Fatal("store returned a shared pointer")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreCompareAndSetStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPendingIntent("i1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := store.CompareAndSetStatus(ctx, "i1", StatusPending, StatusCompleted)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !won {
		t.Fatal("expected first cas to win")
	}

	won, err = store.CompareAndSetStatus(ctx, "i1", StatusPending, StatusExpired)
	if err != nil {
		t.Fatalf("cas after terminal: %v", err)
	}
	if won {
		t.Fatal("cas from pending must fail once terminal")
	}

	if _, err := store.CompareAndSetStatus(ctx, "missing", StatusPending, StatusExpired); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreCASSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newPendingIntent("i1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 32
	wins := make(chan Status, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		next := StatusCompleted
		if i%2 == 1 {
			next = StatusExpired
		}
		wg.Add(1)
		go func(next Status) {
			defer wg.Done()
			won, err := store.CompareAndSetStatus(ctx, "i1", StatusPending, next)
			if err != nil {
				t.Errorf("cas: %v", err)
				return
			}
			if won {
				wins <- next
			}
		}(next)
	}
	wg.Wait()
	close(wins)

	var winners []Status
	for status := range wins {
		winners = append(winners, status)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one cas winner, got %d", len(winners))
	}
	got, _ := store.Get(ctx, "i1")
	if got.Status != winners[0] {
		t.Fatalf("stored status %s does not match winner %s", got.Status, winners[0])
	}
}

func TestMemoryStoreMarkSettled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newPendingIntent("i1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.MarkSettled(ctx, "i1", "0xabc", 3); err == nil {
		t.Fatal("expected error settling a pending intent")
	}

	if _, err := store.CompareAndSetStatus(ctx, "i1", StatusPending, StatusCompleted); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if err := store.MarkSettled(ctx, "i1", "0xabc", 3); err != nil {
		t.Fatalf("mark settled: %v", err)
	}

	got, _ := store.Get(ctx, "i1")
	if got.ConfirmedTxHash != "0xabc" || got.Confirmations != 3 {
		t.Fatalf("settlement evidence not recorded: %+v", got)
	}
}

func TestMemoryStoreListByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"i1", "i2", "i3"} {
		in := newPendingIntent(id)
		if err := store.Create(ctx, in); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.CompareAndSetStatus(ctx, "i2", StatusPending, StatusExpired); err != nil {
		t.Fatalf("cas: %v", err)
	}

	pending, err := store.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending intents, got %d", len(pending))
	}

	expired, err := store.ListByStatus(ctx, StatusExpired, 0)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "i2" {
		t.Fatalf("unexpected expired list: %+v", expired)
	}
}
