package intent

import (
	"math"
	"math/big"

	xerrors "TicketChain/internal/errors"
)

// LedgerScale 是结算币种的小数位数（USDC 为 6 位）。
const LedgerScale = 6

// unitsPerUSD 是 1 美元对应的最小结算单位数量。
const unitsPerUSD = 1_000_000

// LedgerUnits 将美元金额一次性换算为最小结算单位。
// 换算只向下取整：宁少勿多，不会要求付款人支付超过报价的金额。
// 换算结果在意向创建时固化，核验阶段禁止重新推导。
func LedgerUnits(amountUSD float64) (int64, error) {
	if math.IsNaN(amountUSD) || math.IsInf(amountUSD, 0) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "金额不是有效数字")
	}
	if amountUSD < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "金额不能为负数")
	}

	rat := new(big.Rat).SetFloat64(amountUSD)
	if rat == nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "金额无法精确表示")
	}
	rat.Mul(rat, new(big.Rat).SetInt64(unitsPerUSD))

	// 非负金额下 Quo 截断即向下取整。
	units := new(big.Int).Quo(rat.Num(), rat.Denom())
	if !units.IsInt64() {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "金额超出可表示范围")
	}
	return units.Int64(), nil
}

// USDFromUnits 将最小结算单位换算回美元金额，仅用于展示。
func USDFromUnits(units int64) float64 {
	return float64(units) / float64(unitsPerUSD)
}
