package ticket

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "TicketChain/internal/errors"
)

// MemoryStore 以内存方式保存票据。
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*Ticket)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, t *Ticket) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "ticket 不能为空")
	}
	if t.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "票据 ID 不能为空")
	}
	if !IsValidStatus(t.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的票据状态")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "票据已存在")
	}
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	clone := *t
	m.tickets[t.ID] = &clone
	return nil
}

// Get 返回票据副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	clone := *t
	return &clone, nil
}

// MarkPaid 实现 Store 接口。
func (m *MemoryStore) MarkPaid(_ context.Context, id, qrCode string) error {
	if qrCode == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "入场码不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != StatusPendingPayment {
		return ErrTicketClosed
	}
	t.Status = StatusPaid
	t.QRCode = qrCode
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkCancelled 实现 Store 接口。
func (m *MemoryStore) MarkCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != StatusPendingPayment {
		return ErrTicketClosed
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// ListByStatus 返回指定状态的票据，按创建时间降序（最近优先）。
// status 为空时返回全部。
func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if status != "" && t.Status != status {
			continue
		}
		clone := *t
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
