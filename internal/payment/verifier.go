package payment

import (
	"context"
	"math"
	"strings"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/wallet"
)

// VerificationResult 汇总一次只读核验的观察结果。
type VerificationResult struct {
	IntentID       string `json:"intent_id"`
	Matched        bool   `json:"matched"`
	TxHash         string `json:"tx_hash,omitempty"`
	Confirmations  int64  `json:"confirmations,omitempty"`
	ObservedAmount int64  `json:"observed_amount,omitempty"`
}

var (
	// ErrPaymentNotObserved 表示尚未观察到符合条件的付款，稍后重试。
	ErrPaymentNotObserved = xerrors.New(CodePaymentNotObserved, "payment not observed yet")
)

// CodePaymentNotObserved 是付款未到账的统一错误码。
const CodePaymentNotObserved xerrors.Code = "PAYMENT_NOT_OBSERVED"

func init() {
	xerrors.Register(CodePaymentNotObserved, xerrors.Attributes{
		Message:   "payment not observed yet",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
}

// Verifier 将支付意向与钱包网关的观察结果进行比对。
// 核验是只读且无副作用的，可以被任意次数、任意并发地调用；
// 状态变更是 SettlementEngine 的职责。
type Verifier struct {
	intents          intent.Store
	gateway          wallet.Gateway
	minConfirmations int64
	tolerance        float64
}

// NewVerifier 构造核验器。tolerance 是允许的少付比例（如 0.01），
// minConfirmations 是防链重组的确认数阈值。
func NewVerifier(intents intent.Store, gateway wallet.Gateway, minConfirmations int64, tolerance float64) *Verifier {
	if minConfirmations <= 0 {
		minConfirmations = 2
	}
	if tolerance < 0 || tolerance >= 1 {
		tolerance = 0.01
	}
	return &Verifier{
		intents:          intents,
		gateway:          gateway,
		minConfirmations: minConfirmations,
		tolerance:        tolerance,
	}
}

// CheckIntent 查询收款地址的转账历史，寻找满足金额与确认数要求的付款。
// 金额阈值来自意向上固化的 AmountLedgerUnits，禁止从美元金额重新推导。
func (v *Verifier) CheckIntent(ctx context.Context, intentID string) (*VerificationResult, error) {
	if v.intents == nil || v.gateway == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "核验器未初始化")
	}

	in, err := v.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{IntentID: in.ID}

	transfers, err := v.gateway.Transfers(ctx, in.PayToAddress)
	if err != nil {
		// 网关故障必须向上传播重试，绝不能当作"未付款"。
		return nil, err
	}

	required := minAcceptable(in.AmountLedgerUnits, v.tolerance)
	for _, tx := range transfers {
		if !strings.EqualFold(tx.To, in.PayToAddress) {
			continue
		}
		if tx.Amount < required {
			continue
		}
		if tx.Amount > result.ObservedAmount {
			result.ObservedAmount = tx.Amount
		}
		if tx.Confirmations < v.minConfirmations {
			continue
		}
		result.Matched = true
		result.TxHash = tx.Hash
		result.Confirmations = tx.Confirmations
		result.ObservedAmount = tx.Amount
		break
	}
	return result, nil
}

// VerifyTransaction 独立核验调用方提供的交易哈希。
// 哈希只是线索：收款方、金额、确认数都要重新对照网关检查，
// 伪造或过期的哈希不会通过。
func (v *Verifier) VerifyTransaction(ctx context.Context, intentID, txHash string) (*VerificationResult, error) {
	if v.intents == nil || v.gateway == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "核验器未初始化")
	}
	if strings.TrimSpace(txHash) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}

	in, err := v.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{IntentID: in.ID}

	tx, err := v.gateway.Transaction(ctx, txHash)
	if err != nil {
		if xerrors.CodeOf(err) == wallet.CodeTxNotFound {
			return result, nil
		}
		return nil, err
	}

	result.TxHash = tx.Hash
	result.Confirmations = tx.Confirmations
	result.ObservedAmount = tx.Amount

	if !strings.EqualFold(tx.To, in.PayToAddress) {
		return result, nil
	}
	if tx.Amount < minAcceptable(in.AmountLedgerUnits, v.tolerance) {
		return result, nil
	}
	if tx.Confirmations < v.minConfirmations {
		return result, nil
	}
	result.Matched = true
	return result, nil
}

// minAcceptable 计算容忍度内可接受的最低到账金额。
// 向上取整，确保少付超过容忍度的一定不会通过。
func minAcceptable(required int64, tolerance float64) int64 {
	if required <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(required) * (1.0 - tolerance)))
}
