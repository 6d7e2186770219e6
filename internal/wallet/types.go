package wallet

import (
	"context"

	xerrors "TicketChain/internal/errors"
)

// Transaction is the gateway's view of a confirmed or pending transfer
// on the settlement network. Amount is expressed in ledger units.
type Transaction struct {
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        int64  `json:"amount"`
	Confirmations int64  `json:"confirmations"`
}

// Gateway defines the wallet primitives the settlement core depends on.
// Implementations must fail distinctly for "not observed yet"
// (ErrTxNotFound) versus transport failure (ErrGatewayUnavailable):
// the verifier must never read an outage as an absent payment.
type Gateway interface {
	// Address returns the wallet's own address on the network.
	Address() string
	// Network returns the human-readable network name.
	Network() string
	// Balance returns the spendable ledger-unit balance at an address.
	Balance(ctx context.Context, address string) (int64, error)
	// Transfer sends ledger units from the wallet's own address and
	// returns the transaction hash. Used for outbound disbursements.
	Transfer(ctx context.Context, toAddress string, amount int64) (string, error)
	// Transaction looks a transfer up by hash.
	Transaction(ctx context.Context, txHash string) (*Transaction, error)
	// Transfers returns the inbound transfer history observed at an
	// address, most recent first. An empty slice means no payment has
	// been observed; it is not an error.
	Transfers(ctx context.Context, address string) ([]*Transaction, error)
	// EstimateFee returns the ledger-unit fee for a prospective transfer.
	EstimateFee(ctx context.Context, toAddress string, amount int64) (int64, error)
	// Close releases any network connections held by the gateway.
	Close()
}

var (
	// ErrTxNotFound 表示交易尚未被网络观察到，稍后重试即可。
	ErrTxNotFound = xerrors.New(CodeTxNotFound, "transaction not observed yet")
	// ErrGatewayUnavailable 表示网关暂时不可达，绝不能解读为"未付款"。
	ErrGatewayUnavailable = xerrors.New(xerrors.CodeGatewayUnavailable, "wallet gateway unavailable")
	// ErrInvalidAddress 表示地址格式非法。
	ErrInvalidAddress = xerrors.New(CodeInvalidAddress, "invalid address")
	// ErrInsufficientBalance 表示钱包余额不足以完成转账。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "insufficient wallet balance")
)

const (
	CodeTxNotFound          xerrors.Code = "TX_NOT_FOUND"
	CodeInvalidAddress      xerrors.Code = "INVALID_ADDRESS"
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
)

func init() {
	xerrors.Register(CodeTxNotFound, xerrors.Attributes{
		Message:   "transaction not observed yet",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidAddress, xerrors.Attributes{
		Message:   "invalid address",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:   "insufficient wallet balance",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}
