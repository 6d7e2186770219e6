package inventory

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestReserveReleaseCommit(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 5)

	res, err := ledger.Reserve("event-1", 3)
	if err != nil {
		t.Fatalf("reserve 3: %v", err)
	}
	if available, _ := ledger.Available("event-1"); available != 2 {
		t.Fatalf("expected 2 available, got %d", available)
	}

	if _, err := ledger.Reserve("event-1", 4); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}

	if err := ledger.Release(res.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if available, _ := ledger.Available("event-1"); available != 5 {
		t.Fatalf("expected 5 available after release, got %d", available)
	}

	if err := ledger.Release(res.ID); !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("expected reservation closed on double release, got %v", err)
	}
	if err := ledger.Commit(res.ID); !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("expected reservation closed on commit after release, got %v", err)
	}
}

func TestCommitKeepsCounter(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 10)

	res, err := ledger.Reserve("event-1", 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Commit(res.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// 库存在 Reserve 时已经扣减，确认不再变动计数。
	if available, _ := ledger.Available("event-1"); available != 6 {
		t.Fatalf("expected 6 available after commit, got %d", available)
	}
	if err := ledger.Release(res.ID); !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("expected reservation closed after commit, got %v", err)
	}
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	t.Parallel()

	const total = 100
	ledger := NewLedger()
	ledger.Register("event-1", total)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := ledger.Reserve("event-1", 3); err == nil {
					granted.Add(3)
				} else if !errors.Is(err, ErrInsufficientInventory) {
					t.Errorf("unexpected reserve error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	available, err := ledger.Available("event-1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available < 0 {
		t.Fatalf("available went negative: %d", available)
	}
	if granted.Load()+available != total {
		t.Fatalf("conservation violated: granted %d + available %d != %d", granted.Load(), available, total)
	}
}

func TestEventsDoNotSerialize(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 50)
	ledger.Register("event-2", 50)

	var wg sync.WaitGroup
	for _, eventID := range []string{"event-1", "event-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := ledger.Reserve(id, 1); err != nil {
					t.Errorf("reserve %s: %v", id, err)
					return
				}
			}
		}(eventID)
	}
	wg.Wait()

	for _, eventID := range []string{"event-1", "event-2"} {
		if available, _ := ledger.Available(eventID); available != 0 {
			t.Fatalf("expected %s drained, got %d", eventID, available)
		}
	}
}

func TestReserveValidation(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 5)

	if _, err := ledger.Reserve("event-1", 0); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := ledger.Reserve("missing", 1); !errors.Is(err, ErrEventNotRegistered) {
		t.Fatalf("expected event not registered, got %v", err)
	}
	if err := ledger.Release("nope"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected reservation not found, got %v", err)
	}
}

func TestTerminalHoldsArePruned(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 100)

	released, err := ledger.Reserve("event-1", 1)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	committed, err := ledger.Reserve("event-1", 1)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.Release(released.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := ledger.Commit(committed.ID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	ledger.mu.RLock()
	byHold := len(ledger.byHold)
	closed := len(ledger.closed)
	holds := len(ledger.counters["event-1"].holds)
	ledger.mu.RUnlock()
	if byHold != 0 || holds != 0 {
		t.Fatalf("terminal holds not pruned: byHold=%d holds=%d", byHold, holds)
	}
	if closed != 2 {
		t.Fatalf("expected 2 tombstones, got %d", closed)
	}

	// 墓碑仍能区分"已终结"与"不存在"。
	if err := ledger.Release(released.ID); !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("expected reservation closed, got %v", err)
	}
	if err := ledger.Commit(committed.ID); !errors.Is(err, ErrReservationClosed) {
		t.Fatalf("expected reservation closed, got %v", err)
	}
}

func TestTombstonesAreBounded(t *testing.T) {
	ledger := NewLedger()
	ledger.Register("event-1", 1)

	cycles := maxClosedHolds + 50
	for i := 0; i < cycles; i++ {
		res, err := ledger.Reserve("event-1", 1)
		if err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
		if err := ledger.Release(res.ID); err != nil {
			t.Fatalf("release %d failed: %v", i, err)
		}
	}

	ledger.mu.RLock()
	closed := len(ledger.closed)
	order := len(ledger.closedOrder)
	byHold := len(ledger.byHold)
	ledger.mu.RUnlock()
	if closed != maxClosedHolds || order != maxClosedHolds {
		t.Fatalf("tombstones not bounded: closed=%d order=%d", closed, order)
	}
	if byHold != 0 {
		t.Fatalf("active map should be empty, got %d", byHold)
	}

	// 守恒不受长期运行影响。
	if available, _ := ledger.Available("event-1"); available != 1 {
		t.Fatalf("expected full availability, got %d", available)
	}
}
