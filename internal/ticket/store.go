package ticket

import "context"

// Store 抽象票据的持久化接口。
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	// MarkPaid 将待支付票据转为已支付并写入入场码。
	// 只允许从 pending_payment 出发，结算引擎在赢得意向 CAS 后调用。
	MarkPaid(ctx context.Context, id, qrCode string) error
	// MarkCancelled 将待支付票据作废，过期回收时调用。
	MarkCancelled(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Ticket, error)
	Close() error
}
