package payment

import (
	"context"
	"log/slog"
	"time"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/observability/alerting"
	"TicketChain/pkg/logger"
)

// reaperBatchSize 限制单次扫描的待处理意向数量。
const reaperBatchSize = 256

// Reaper 周期性扫描超时未付款的支付意向并将其置为过期。
// 真正的状态转换交给结算引擎的 Expire，与结算共用同一个 CAS，
// 因此扫描期间付款恰好到账也不会出现"既出票又退库存"。
type Reaper struct {
	intents  intent.Store
	engine   *Engine
	interval time.Duration
	alerter  alerting.Dispatcher
	log      *slog.Logger
}

// ReaperOption 定义可选配置。
type ReaperOption func(*Reaper)

// WithReaperAlerter 配置告警派发器。
func WithReaperAlerter(dispatcher alerting.Dispatcher) ReaperOption {
	return func(r *Reaper) {
		r.alerter = dispatcher
	}
}

// WithReaperLogger 指定日志输出。
func WithReaperLogger(log *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		r.log = log
	}
}

// NewReaper 构造过期回收器。
func NewReaper(intents intent.Store, engine *Engine, interval time.Duration, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	r := &Reaper{
		intents:  intents,
		engine:   engine,
		interval: interval,
		log:      logger.Named("reaper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 阻塞运行回收循环，直到上下文取消。
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.log.Error("过期扫描失败", slog.Any("error", err))
				r.emitAlert(ctx, "", err)
			} else if n > 0 {
				r.log.Info("过期扫描完成", slog.Int("expired", n))
			}
		}
	}
}

// Sweep 执行一轮扫描，返回本轮置为过期的意向数量。
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	pending, err := r.intents.ListByStatus(ctx, intent.StatusPending, reaperBatchSize)
	if err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	expired := 0
	for _, in := range pending {
		if now < in.ExpiresAt {
			continue
		}
		if err := r.engine.Expire(ctx, in.ID); err != nil {
			r.log.Error("过期处理失败",
				slog.String("intent_id", in.ID),
				slog.Any("error", err))
			r.emitAlert(ctx, in.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (r *Reaper) emitAlert(ctx context.Context, intentID string, cause error) {
	if r.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		IntentID:   intentID,
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.log.Warn("发送告警失败", slog.Any("error", err))
	}
}
