package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "TicketChain/internal/errors"
)

// MemoryStore 以内存方式保存支付意向，带持久化接缝，
// 生产部署可切换到 MySQLStore。
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*PaymentIntent
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*PaymentIntent)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, in *PaymentIntent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent 不能为空")
	}
	if in.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意向 ID 不能为空")
	}
	if !IsValidStatus(in.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的意向状态")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[in.ID]; ok {
		return ErrIntentConflict
	}
	now := time.Now().Unix()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	m.intents[in.ID] = clone(in)
	return nil
}

// Get 返回支付意向的副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return clone(in), nil
}

// CompareAndSetStatus 在持锁状态下完成比较并交换，
// 同一意向上的并发转换最多只有一方成功。
func (m *MemoryStore) CompareAndSetStatus(_ context.Context, id string, expect, next Status) (bool, error) {
	if !IsValidStatus(expect) || !IsValidStatus(next) {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "不支持的意向状态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return false, ErrIntentNotFound
	}
	if in.Status != expect {
		return false, nil
	}
	in.Status = next
	in.UpdatedAt = time.Now().Unix()
	return true, nil
}

// MarkSettled 记录结算凭据。只允许写在已完成的意向上。
func (m *MemoryStore) MarkSettled(_ context.Context, id, txHash string, confirmations int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if in.Status != StatusCompleted {
		return xerrors.New(xerrors.CodeConflict, "意向尚未完成，不能记录结算凭据")
	}
	in.ConfirmedTxHash = txHash
	in.Confirmations = confirmations
	in.UpdatedAt = time.Now().Unix()
	return nil
}

// ListByStatus 返回指定状态的意向，按创建时间升序。
func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*PaymentIntent, 0, len(m.intents))
	for _, in := range m.intents {
		if in.Status != status {
			continue
		}
		results = append(results, clone(in))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt < results[j].CreatedAt
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

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
