package intent

import (
	xerrors "TicketChain/internal/errors"
)

// Status 表示支付意向在生命周期中的状态。
// pending 是唯一的非终态，终态之间不允许互相转换。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// PaymentIntent 记录一次预订到支付的映射。
// 状态只能通过 Store.CompareAndSetStatus 变更。
type PaymentIntent struct {
	ID                string  `json:"id"`
	EventID           string  `json:"event_id"`
	ReservationID     string  `json:"reservation_id"`
	TicketID          string  `json:"ticket_id"`
	Quantity          int64   `json:"quantity"`
	BuyerContact      string  `json:"buyer_contact,omitempty"`
	AmountUSD         float64 `json:"amount_usd"`
	AmountLedgerUnits int64   `json:"amount_ledger_units"`
	Currency          string  `json:"currency"`
	PayToAddress      string  `json:"pay_to_address"`
	Status            Status  `json:"status"`
	ConfirmedTxHash   string  `json:"confirmed_tx_hash,omitempty"`
	Confirmations     int64   `json:"confirmations,omitempty"`
	CreatedAt         int64   `json:"created_at"`
	ExpiresAt         int64   `json:"expires_at"`
	UpdatedAt         int64   `json:"updated_at"`
}

var (
	// ErrIntentNotFound 表示指定的支付意向不存在。
	ErrIntentNotFound = xerrors.New(CodeIntentNotFound, "payment intent not found")
	// ErrIntentConflict 表示意向 ID 已存在。
	ErrIntentConflict = xerrors.New(CodeIntentConflict, "payment intent conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrIntentExpired 表示意向已过期，预订占用的库存已释放。
	ErrIntentExpired = xerrors.New(CodeIntentExpired, "payment intent expired")
	// ErrIntentAlreadySettled 表示意向已经结算完成。
	// 结算是幂等的，调用方不应把它当作失败。
	ErrIntentAlreadySettled = xerrors.New(CodeIntentAlreadySettled, "payment intent already settled", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeIntentNotFound       xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentConflict       xerrors.Code = "INTENT_CONFLICT"
	CodeIntentExpired        xerrors.Code = "INTENT_EXPIRED"
	CodeIntentAlreadySettled xerrors.Code = "INTENT_ALREADY_SETTLED"
)

func init() {
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{
		Message:   "payment intent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentConflict, xerrors.Attributes{
		Message:   "payment intent conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentExpired, xerrors.Attributes{
		Message:   "payment intent expired",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentAlreadySettled, xerrors.Attributes{
		Message:   "payment intent already settled",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusCompleted, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

func clone(in *PaymentIntent) *PaymentIntent {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
