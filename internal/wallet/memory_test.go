package wallet

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "TicketChain/internal/errors"
)

const (
	walletAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr  = "0x2222222222222222222222222222222222222222"
	payeeAddr  = "0x3333333333333333333333333333333333333333"
)

func TestMemoryGatewayDepositAndLookup(t *testing.T) {
	g := NewMemoryGateway(walletAddr, "memory", 0)
	ctx := context.Background()

	hash := g.Deposit(buyerAddr, walletAddr, 1_000_000, 2)
	if !strings.HasPrefix(hash, "0x") {
		t.Fatalf("入账哈希格式异常: %s", hash)
	}

	balance, err := g.Balance(ctx, walletAddr)
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	if balance != 1_000_000 {
		t.Fatalf("入账后余额 = %d, 期望 1000000", balance)
	}

	tx, err := g.Transaction(ctx, hash)
	if err != nil {
		t.Fatalf("按哈希查询失败: %v", err)
	}
	if tx.Amount != 1_000_000 || tx.Confirmations != 2 {
		t.Fatalf("交易内容不符: %+v", tx)
	}
}

func TestMemoryGatewayTxNotFoundIsDistinctFromOutage(t *testing.T) {
	g := NewMemoryGateway(walletAddr, "memory", 0)
	ctx := context.Background()

	_, err := g.Transaction(ctx, "0xdeadbeef")
	if !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("不存在的哈希应返回 ErrTxNotFound, 实际: %v", err)
	}

	g.SetUnavailable(true)
	_, err = g.Transaction(ctx, "0xdeadbeef")
	if xerrors.CodeOf(err) != xerrors.CodeGatewayUnavailable {
		t.Fatalf("故障期间应返回网关不可用, 实际: %v", err)
	}
	if _, err := g.Transfers(ctx, walletAddr); xerrors.CodeOf(err) != xerrors.CodeGatewayUnavailable {
		t.Fatalf("故障期间查询流水应失败, 实际: %v", err)
	}
}

func TestMemoryGatewayTransfersCaseInsensitive(t *testing.T) {
	g := NewMemoryGateway(walletAddr, "memory", 0)
	ctx := context.Background()

	g.Deposit(buyerAddr, walletAddr, 500_000, 1)
	g.Deposit(buyerAddr, payeeAddr, 700_000, 1)

	history, err := g.Transfers(ctx, "0x"+strings.ToUpper(walletAddr[2:]))
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	if len(history) != 1 || history[0].Amount != 500_000 {
		t.Fatalf("流水内容不符: %+v", history)
	}
}

func TestMemoryGatewayTransferDeductsFee(t *testing.T) {
	g := NewMemoryGateway(walletAddr, "memory", 1_000_000)
	g.SetFee(250)
	ctx := context.Background()

	if _, err := g.Transfer(ctx, payeeAddr, 1_000_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("余额不足以覆盖手续费时应拒绝, 实际: %v", err)
	}

	hash, err := g.Transfer(ctx, payeeAddr, 500_000)
	if err != nil {
		t.Fatalf("转账失败: %v", err)
	}
	if hash == "" {
		t.Fatal("转账应返回交易哈希")
	}

	balance, _ := g.Balance(ctx, walletAddr)
	if balance != 1_000_000-500_000-250 {
		t.Fatalf("转账后余额 = %d, 期望扣除本金与手续费", balance)
	}
	received, _ := g.Balance(ctx, payeeAddr)
	if received != 500_000 {
		t.Fatalf("收款方余额 = %d, 期望 500000", received)
	}
}

func TestMemoryGatewayRejectsMalformedAddress(t *testing.T) {
	g := NewMemoryGateway(walletAddr, "memory", 1_000_000)
	ctx := context.Background()

	if _, err := g.Balance(ctx, "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("非法地址应被拒绝, 实际: %v", err)
	}
	if _, err := g.Transfer(ctx, "0xshort", 100); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("非法收款地址应被拒绝, 实际: %v", err)
	}
}
