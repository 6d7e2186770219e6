package ticket

import (
	"fmt"

	"github.com/google/uuid"

	xerrors "TicketChain/internal/errors"
)

// Status 表示票据状态。票据在预订时以 pending_payment 创建，
// 由结算引擎一次性转为 paid，之后不再回退。
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusCancelled      Status = "cancelled"
	StatusUsed           Status = "used"
)

// Ticket 描述一张（或一组同订单的）票。
type Ticket struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	ReservationID string `json:"reservation_id"`
	Quantity      int64  `json:"quantity"`
	HolderContact string `json:"holder_contact,omitempty"`
	Status        Status `json:"status"`
	QRCode        string `json:"qr_code,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

var (
	// ErrTicketNotFound 表示指定的票据不存在。
	ErrTicketNotFound = xerrors.New(xerrors.CodeNotFound, "票据不存在")
	// ErrTicketClosed 表示票据已离开待支付状态，不能再次变更。
	ErrTicketClosed = xerrors.New(xerrors.CodeConflict, "票据状态已终结")
)

// IsValidStatus 检查给定的票据状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPendingPayment, StatusPaid, StatusCancelled, StatusUsed:
		return true
	default:
		return false
	}
}

// NewQRCode 生成不可预测的入场码。只在票据转为 paid 时签发。
func NewQRCode(ticketID string) string {
	return fmt.Sprintf("tc1:%s:%s", ticketID, uuid.NewString())
}
