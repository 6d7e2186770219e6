package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryGateway 以内存方式模拟结算网络，主要用于测试与本地开发。
// 通过 Deposit 预置入账，通过 AddConfirmations 推进确认数，
// 通过 SetUnavailable 模拟网关故障。
type MemoryGateway struct {
	mu          sync.Mutex
	address     string
	network     string
	balances    map[string]int64
	txs         map[string]*Transaction
	fee         int64
	unavailable bool
}

// NewMemoryGateway 创建内存网关，钱包自身地址持有 initialBalance。
func NewMemoryGateway(address, network string, initialBalance int64) *MemoryGateway {
	g := &MemoryGateway{
		address:  address,
		network:  network,
		balances: make(map[string]int64),
		txs:      make(map[string]*Transaction),
		fee:      100,
	}
	if initialBalance > 0 {
		g.balances[address] = initialBalance
	}
	return g
}

// Deposit 模拟一笔外部入账并返回交易哈希。
func (g *MemoryGateway) Deposit(from, to string, amount, confirmations int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	hash := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	g.balances[to] += amount
	g.txs[hash] = &Transaction{
		Hash:          hash,
		From:          from,
		To:            to,
		Amount:        amount,
		Confirmations: confirmations,
	}
	return hash
}

// AddConfirmations 将所有已知交易的确认数推进 n。
func (g *MemoryGateway) AddConfirmations(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tx := range g.txs {
		tx.Confirmations += n
	}
}

// SetUnavailable 切换网关故障状态。
func (g *MemoryGateway) SetUnavailable(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = down
}

// SetFee 设置固定手续费。
func (g *MemoryGateway) SetFee(fee int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fee = fee
}

// Address 实现 Gateway 接口。
func (g *MemoryGateway) Address() string { return g.address }

// Network 实现 Gateway 接口。
func (g *MemoryGateway) Network() string { return g.network }

// Balance 实现 Gateway 接口。
func (g *MemoryGateway) Balance(_ context.Context, address string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return 0, ErrGatewayUnavailable
	}
	if !looksLikeAddress(address) {
		return 0, ErrInvalidAddress
	}
	return g.balances[address], nil
}

// Transfer 实现 Gateway 接口。
func (g *MemoryGateway) Transfer(_ context.Context, toAddress string, amount int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return "", ErrGatewayUnavailable
	}
	if !looksLikeAddress(toAddress) {
		return "", ErrInvalidAddress
	}
	if amount <= 0 {
		return "", fmt.Errorf("转账金额必须为正数")
	}
	if g.balances[g.address] < amount+g.fee {
		return "", ErrInsufficientBalance
	}
	g.balances[g.address] -= amount + g.fee
	g.balances[toAddress] += amount
	hash := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	g.txs[hash] = &Transaction{
		Hash:          hash,
		From:          g.address,
		To:            toAddress,
		Amount:        amount,
		Confirmations: 1,
	}
	return hash, nil
}

// Transfers 实现 Gateway 接口，返回指定地址的入账历史。
func (g *MemoryGateway) Transfers(_ context.Context, address string) ([]*Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return nil, ErrGatewayUnavailable
	}
	if !looksLikeAddress(address) {
		return nil, ErrInvalidAddress
	}
	var out []*Transaction
	for _, tx := range g.txs {
		if strings.EqualFold(tx.To, address) {
			clone := *tx
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confirmations < out[j].Confirmations })
	return out, nil
}

// Transaction 实现 Gateway 接口。
func (g *MemoryGateway) Transaction(_ context.Context, txHash string) (*Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return nil, ErrGatewayUnavailable
	}
	tx, ok := g.txs[txHash]
	if !ok {
		return nil, ErrTxNotFound
	}
	clone := *tx
	return &clone, nil
}

// EstimateFee 实现 Gateway 接口。
func (g *MemoryGateway) EstimateFee(_ context.Context, toAddress string, _ int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return 0, ErrGatewayUnavailable
	}
	if !looksLikeAddress(toAddress) {
		return 0, ErrInvalidAddress
	}
	return g.fee, nil
}

// Close 对内存网关无需操作。
func (g *MemoryGateway) Close() {}

func looksLikeAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 42
}

var _ Gateway = (*MemoryGateway)(nil)
