package intent

import "context"

// Store 抽象了支付意向的持久化接口。
//
// CompareAndSetStatus 是唯一的状态变更入口：结算与过期回收都通过它
// 竞争从 pending 到终态的转换，赢得 CAS 的一方执行副作用，
// 输掉的一方观察到终态后不做任何事。
type Store interface {
	Create(ctx context.Context, in *PaymentIntent) error
	Get(ctx context.Context, id string) (*PaymentIntent, error)
	CompareAndSetStatus(ctx context.Context, id string, expect, next Status) (bool, error)
	MarkSettled(ctx context.Context, id, txHash string, confirmations int64) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*PaymentIntent, error)
	Close() error
}
