package payment

import (
	"context"
)

// Handler 处理来自核验队列的支付意向 ID。
type Handler func(ctx context.Context, intentID string) error

// Producer 负责向核验队列投递支付意向。
type Producer interface {
	Publish(ctx context.Context, intentID string) error
	Close() error
}

// Consumer 负责从核验队列中消费支付意向。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
