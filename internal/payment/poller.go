package payment

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/observability/alerting"
	"TicketChain/pkg/logger"
)

// pollBatchSize 限制单轮调度投递的待核验意向数量。
const pollBatchSize = 256

// Poller 驱动后台核验：周期性把待付款的意向投递到核验队列，
// 并消费队列逐个对照链上观察结果，匹配即触发结算。
type Poller struct {
	intents     intent.Store
	verifier    *Verifier
	engine      *Engine
	queue       Queue
	workerCount int
	interval    time.Duration
	alerter     alerting.Dispatcher
	log         *slog.Logger
}

// PollerOption 定义可选配置。
type PollerOption func(*Poller)

// WithPollerLogger 指定日志输出。
func WithPollerLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.log = log
	}
}

// WithPollerWorkers 设置消费协程数量。
func WithPollerWorkers(workers int) PollerOption {
	return func(p *Poller) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithPollerInterval 设置调度周期。
func WithPollerInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPollerAlerter 配置告警派发器。
func WithPollerAlerter(dispatcher alerting.Dispatcher) PollerOption {
	return func(p *Poller) {
		p.alerter = dispatcher
	}
}

// NewPoller 构造后台核验轮询器。
func NewPoller(intents intent.Store, verifier *Verifier, engine *Engine, queue Queue, opts ...PollerOption) *Poller {
	p := &Poller{
		intents:     intents,
		verifier:    verifier,
		engine:      engine,
		queue:       queue,
		workerCount: 1,
		interval:    15 * time.Second,
		log:         logger.Named("poller"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Run 启动调度与消费两个循环，阻塞直到上下文取消。
func (p *Poller) Run(ctx context.Context) error {
	if p.queue == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置核验队列")
	}
	go p.schedule(ctx)
	return p.queue.Consume(ctx, p.workerCount, p.handle)
}

// schedule 周期性把仍在等待付款的意向重新投递进队列。
func (p *Poller) schedule(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := p.intents.ListByStatus(ctx, intent.StatusPending, pollBatchSize)
			if err != nil {
				p.log.Error("加载待核验意向失败", slog.Any("error", err))
				continue
			}
			for _, in := range pending {
				if err := p.queue.Publish(ctx, in.ID); err != nil {
					p.log.Error("投递核验队列失败",
						slog.String("intent_id", in.ID),
						slog.Any("error", err))
				}
			}
		}
	}
}

// handle 对单个意向执行一次核验。返回错误表示暂时失败，
// 队列实现会将其重新投递。
func (p *Poller) handle(ctx context.Context, intentID string) error {
	in, err := p.intents.Get(ctx, intentID)
	if err != nil {
		if stdErrors.Is(err, intent.ErrIntentNotFound) {
			return nil
		}
		p.log.Error("读取支付意向失败", slog.String("intent_id", intentID), slog.Any("error", err))
		return err
	}
	if intent.IsTerminal(in.Status) {
		return nil
	}
	if time.Now().Unix() >= in.ExpiresAt {
		if err := p.engine.Expire(ctx, in.ID); err != nil {
			p.log.Error("过期处理失败", slog.String("intent_id", in.ID), slog.Any("error", err))
		}
		return nil
	}

	result, err := p.verifier.CheckIntent(ctx, in.ID)
	if err != nil {
		p.log.Warn("核验支付意向失败",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
		p.emitAlert(ctx, in, err)
		if xerrors.RetryableError(err) {
			return err
		}
		return nil
	}
	if !result.Matched {
		// 尚未观察到付款，等待下一轮调度。
		return nil
	}

	if _, err := p.engine.Settle(ctx, in.ID, result); err != nil {
		if stdErrors.Is(err, intent.ErrIntentExpired) {
			return nil
		}
		p.log.Error("后台结算失败",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
		p.emitAlert(ctx, in, err)
		return err
	}
	return nil
}

func (p *Poller) emitAlert(ctx context.Context, in *intent.PaymentIntent, cause error) {
	if p.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		IntentID:   in.ID,
		EventID:    in.EventID,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.log.Warn("发送告警失败", slog.String("intent_id", in.ID), slog.Any("error", err))
	}
}
