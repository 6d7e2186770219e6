package payment

import (
	"context"
	"log/slog"
	"time"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/ticket"
	"TicketChain/pkg/logger"
)

// Outcome 描述一次结算请求的最终结果。
type Outcome struct {
	IntentID       string         `json:"intent_id"`
	Status         intent.Status  `json:"status"`
	TxHash         string         `json:"tx_hash,omitempty"`
	Confirmations  int64          `json:"confirmations,omitempty"`
	Ticket         *ticket.Ticket `json:"ticket,omitempty"`
	AlreadySettled bool           `json:"already_settled,omitempty"`
}

// Engine 是系统中唯一允许把支付意向推进到终态的组件。
// 幂等性依赖意向存储的 CAS：同一意向无论多少并发结算请求，
// 只有赢得 pending→completed 转换的那一个会提交库存并签发二维码。
type Engine struct {
	intents intent.Store
	tickets ticket.Store
	ledger  *inventory.Ledger
	log     *slog.Logger
}

// NewEngine 构造结算引擎。
func NewEngine(intents intent.Store, tickets ticket.Store, ledger *inventory.Ledger) *Engine {
	return &Engine{
		intents: intents,
		tickets: tickets,
		ledger:  ledger,
		log:     logger.Named("settlement"),
	}
}

// Settle 依据一次已匹配的核验结果结算支付意向。
// 重复结算不是错误：后到的请求返回现有终态与已签发的门票。
func (e *Engine) Settle(ctx context.Context, intentID string, result *VerificationResult) (*Outcome, error) {
	if result == nil || !result.Matched {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "结算要求一份已匹配的核验结果")
	}

	in, err := e.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal(in.Status) {
		return e.terminalOutcome(ctx, in)
	}
	if time.Now().Unix() >= in.ExpiresAt {
		// 付款结果到达太晚，按过期处理并释放库存。
		if err := e.Expire(ctx, in.ID); err != nil {
			return nil, err
		}
		return nil, intent.ErrIntentExpired
	}

	won, err := e.intents.CompareAndSetStatus(ctx, in.ID, intent.StatusPending, intent.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !won {
		// 另一条路径抢先完成了状态转换，读出终态即可。
		current, err := e.intents.Get(ctx, intentID)
		if err != nil {
			return nil, err
		}
		return e.terminalOutcome(ctx, current)
	}

	// 从这里起本调用独占结算路径：提交库存、签发二维码、固化结果。
	if err := e.ledger.Commit(in.ReservationID); err != nil {
		e.log.Error("结算后提交库存失败",
			slog.String("intent_id", in.ID),
			slog.String("reservation_id", in.ReservationID),
			slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交库存失败")
	}

	qrCode := ticket.NewQRCode(in.TicketID)
	if err := e.tickets.MarkPaid(ctx, in.TicketID, qrCode); err != nil {
		e.log.Error("结算后签发门票失败",
			slog.String("intent_id", in.ID),
			slog.String("ticket_id", in.TicketID),
			slog.Any("error", err))
		return nil, err
	}
	tk, err := e.tickets.Get(ctx, in.TicketID)
	if err != nil {
		return nil, err
	}

	if err := e.intents.MarkSettled(ctx, in.ID, result.TxHash, result.Confirmations); err != nil {
		e.log.Error("固化结算结果失败",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
		return nil, err
	}

	logger.Audit().Info("支付意向结算完成",
		slog.String("intent_id", in.ID),
		slog.String("event_id", in.EventID),
		slog.String("ticket_id", tk.ID),
		slog.String("tx_hash", result.TxHash),
		slog.Int64("amount_units", in.AmountLedgerUnits),
		slog.Int64("confirmations", result.Confirmations))

	return &Outcome{
		IntentID:      in.ID,
		Status:        intent.StatusCompleted,
		TxHash:        result.TxHash,
		Confirmations: result.Confirmations,
		Ticket:        tk,
	}, nil
}

// Expire 将超时未付款的意向置为过期并释放占用的库存。
// 与 Settle 竞争同一个 CAS，两者之中恰有一个生效。
func (e *Engine) Expire(ctx context.Context, intentID string) error {
	in, err := e.intents.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.IsTerminal(in.Status) {
		return nil
	}

	won, err := e.intents.CompareAndSetStatus(ctx, in.ID, intent.StatusPending, intent.StatusExpired)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := e.ledger.Release(in.ReservationID); err != nil {
		e.log.Error("过期释放库存失败",
			slog.String("intent_id", in.ID),
			slog.String("reservation_id", in.ReservationID),
			slog.Any("error", err))
	}
	if err := e.tickets.MarkCancelled(ctx, in.TicketID); err != nil {
		e.log.Error("过期取消门票失败",
			slog.String("intent_id", in.ID),
			slog.String("ticket_id", in.TicketID),
			slog.Any("error", err))
	}

	logger.Audit().Info("支付意向过期",
		slog.String("intent_id", in.ID),
		slog.String("event_id", in.EventID),
		slog.String("reservation_id", in.ReservationID),
		slog.Int64("amount_units", in.AmountLedgerUnits))
	return nil
}

// terminalOutcome 将已处于终态的意向翻译成结算结果。
func (e *Engine) terminalOutcome(ctx context.Context, in *intent.PaymentIntent) (*Outcome, error) {
	switch in.Status {
	case intent.StatusCompleted:
		out := &Outcome{
			IntentID:       in.ID,
			Status:         in.Status,
			TxHash:         in.ConfirmedTxHash,
			Confirmations:  in.Confirmations,
			AlreadySettled: true,
		}
		tk, err := e.tickets.Get(ctx, in.TicketID)
		if err == nil {
			out.Ticket = tk
		}
		return out, nil
	case intent.StatusExpired:
		return nil, intent.ErrIntentExpired
	default:
		return nil, xerrors.New(xerrors.CodeConflict, "支付意向已失败，无法结算")
	}
}
