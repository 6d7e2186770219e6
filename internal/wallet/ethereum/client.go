package ethereum

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/wallet"
)

// erc20ABI is the minimal ERC-20 surface the gateway needs: balance
// lookup, transfers of the settlement token and the Transfer event for
// scanning inbound payment history.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// transferLookbackBlocks bounds how far back Transfers scans for
// inbound payments. Payment intents expire within minutes, so a few
// thousand blocks is plenty on any EVM chain.
const transferLookbackBlocks = uint64(10_000)

// Config describes how to construct an EVM settlement gateway.
type Config struct {
	Name          string
	RPCURL        string
	ChainID       int64
	TokenContract string
	TokenSymbol   string
	PrivateKeyHex string
	Notes         string
}

// Client implements the wallet.Gateway interface for EVM compatible
// chains, settling in an ERC-20 token (native asset when no token
// contract is configured).
type Client struct {
	name       string
	notes      string
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	chainID    *big.Int
	token      *common.Address
	erc20      abi.ABI
	signingKey *ecdsa.PrivateKey
	address    common.Address
	mu         sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// gateway.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, stdErrors.New("未配置结算链 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接结算链节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("查询链 ID 失败: %w", err)
		}
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		chainID:   chainID,
		erc20:     parsedABI,
	}

	if contract := strings.TrimSpace(cfg.TokenContract); contract != "" {
		if !common.IsHexAddress(contract) {
			rpcClient.Close()
			return nil, stdErrors.New("结算代币合约地址非法")
		}
		addr := common.HexToAddress(contract)
		client.token = &addr
	}

	if keyHex := strings.TrimSpace(strings.TrimPrefix(cfg.PrivateKeyHex, "0x")); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
		client.signingKey = key
		client.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	return client, nil
}

// Close releases network connections held by the gateway.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Address 返回钱包自身地址。
func (c *Client) Address() string {
	return c.address.Hex()
}

// Network 返回网络名称。
func (c *Client) Network() string {
	return c.name
}

// Balance 查询地址上的结算代币余额。
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return 0, wallet.ErrInvalidAddress
	}
	holder := common.HexToAddress(address)

	if c.token == nil {
		balance, err := c.eth.BalanceAt(ctx, holder, nil)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询余额失败")
		}
		return toInt64(balance)
	}

	input, err := c.erc20.Pack("balanceOf", holder)
	if err != nil {
		return 0, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: c.token, Data: input}, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询代币余额失败")
	}
	results, err := c.erc20.Unpack("balanceOf", output)
	if err != nil || len(results) != 1 {
		return 0, fmt.Errorf("解码 balanceOf 返回值失败: %v", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return 0, stdErrors.New("balanceOf 返回类型异常")
	}
	return toInt64(balance)
}

// Transfer 从钱包自身地址发出一笔结算代币转账。
func (c *Client) Transfer(ctx context.Context, toAddress string, amount int64) (string, error) {
	if c.signingKey == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥，无法发起转账")
	}
	if !common.IsHexAddress(toAddress) {
		return "", wallet.ErrInvalidAddress
	}
	if amount <= 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正数")
	}
	recipient := common.HexToAddress(toAddress)

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询 nonce 失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询 gas 价格失败")
	}

	var txData *coretypes.LegacyTx
	if c.token == nil {
		txData = &coretypes.LegacyTx{
			Nonce:    nonce,
			To:       &recipient,
			Value:    big.NewInt(amount),
			Gas:      21_000,
			GasPrice: gasPrice,
		}
	} else {
		input, err := c.erc20.Pack("transfer", recipient, big.NewInt(amount))
		if err != nil {
			return "", fmt.Errorf("编码 transfer 调用失败: %w", err)
		}
		gasLimit, err := c.eth.EstimateGas(ctx, gethcore.CallMsg{
			From: c.address,
			To:   c.token,
			Data: input,
		})
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "估算 gas 失败")
		}
		txData = &coretypes.LegacyTx{
			Nonce:    nonce,
			To:       c.token,
			Value:    big.NewInt(0),
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     input,
		}
	}

	tx := coretypes.NewTx(txData)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.signingKey)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "广播交易失败")
	}
	return signed.Hash().Hex(), nil
}

// Transaction 按哈希查询转账详情与确认数。
func (c *Client) Transaction(ctx context.Context, txHash string) (*wallet.Transaction, error) {
	hash := common.HexToHash(txHash)

	tx, isPending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if stdErrors.Is(err, gethcore.NotFound) {
			return nil, wallet.ErrTxNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询交易失败")
	}

	from, err := coretypes.Sender(coretypes.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("恢复交易发送方失败: %w", err)
	}

	to, amount, err := c.decodeTransfer(tx)
	if err != nil {
		return nil, err
	}

	result := &wallet.Transaction{
		Hash:   tx.Hash().Hex(),
		From:   from.Hex(),
		To:     to,
		Amount: amount,
	}
	if isPending {
		return result, nil
	}

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if stdErrors.Is(err, gethcore.NotFound) {
			return result, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询交易回执失败")
	}
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询最新区块高度失败")
	}
	result.Confirmations = confirmations(head, receipt.BlockNumber.Uint64())
	return result, nil
}

// Transfers 扫描收款地址近期的代币入账事件。
// 原生资产没有可过滤的事件日志，返回空列表，核验需调用方提供交易哈希。
func (c *Client) Transfers(ctx context.Context, address string) ([]*wallet.Transaction, error) {
	if !common.IsHexAddress(address) {
		return nil, wallet.ErrInvalidAddress
	}
	if c.token == nil {
		return nil, nil
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询最新区块高度失败")
	}
	start := uint64(0)
	if head > transferLookbackBlocks {
		start = head - transferLookbackBlocks
	}

	recipientTopic := common.BytesToHash(common.HexToAddress(address).Bytes())
	logs, err := c.eth.FilterLogs(ctx, gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		Addresses: []common.Address{*c.token},
		Topics: [][]common.Hash{
			{c.erc20.Events["Transfer"].ID},
			nil,
			{recipientTopic},
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "过滤转账事件失败")
	}

	out := make([]*wallet.Transaction, 0, len(logs))
	for i := range logs {
		lg := logs[i]
		if lg.Removed || len(lg.Topics) != 3 {
			continue
		}
		values, err := c.erc20.Events["Transfer"].Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		rawAmount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		amount, err := toInt64(rawAmount)
		if err != nil {
			continue
		}
		out = append(out, &wallet.Transaction{
			Hash:          lg.TxHash.Hex(),
			From:          common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			To:            common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Amount:        amount,
			Confirmations: confirmations(head, lg.BlockNumber),
		})
	}
	return out, nil
}

// EstimateFee 估算转账的 gas 费用（以原生资产 wei 计）。
func (c *Client) EstimateFee(ctx context.Context, toAddress string, amount int64) (int64, error) {
	if !common.IsHexAddress(toAddress) {
		return 0, wallet.ErrInvalidAddress
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "查询 gas 价格失败")
	}

	gasLimit := uint64(21_000)
	if c.token != nil {
		input, err := c.erc20.Pack("transfer", common.HexToAddress(toAddress), big.NewInt(amount))
		if err != nil {
			return 0, fmt.Errorf("编码 transfer 调用失败: %w", err)
		}
		gasLimit, err = c.eth.EstimateGas(ctx, gethcore.CallMsg{
			From: c.address,
			To:   c.token,
			Data: input,
		})
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "估算 gas 失败")
		}
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return toInt64(fee)
}

// decodeTransfer 解析交易的收款方与金额。
// 代币模式下解码 transfer 调用数据，原生模式直接取 value。
func (c *Client) decodeTransfer(tx *coretypes.Transaction) (string, int64, error) {
	if c.token != nil && tx.To() != nil && *tx.To() == *c.token {
		data := tx.Data()
		if len(data) < 4 {
			return "", 0, stdErrors.New("交易数据长度不足")
		}
		method, err := c.erc20.MethodById(data[:4])
		if err != nil || method.Name != "transfer" {
			return tx.To().Hex(), 0, nil
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil || len(args) != 2 {
			return "", 0, fmt.Errorf("解码 transfer 参数失败: %v", err)
		}
		recipient, ok := args[0].(common.Address)
		if !ok {
			return "", 0, stdErrors.New("transfer 收款地址类型异常")
		}
		rawAmount, ok := args[1].(*big.Int)
		if !ok {
			return "", 0, stdErrors.New("transfer 金额类型异常")
		}
		amount, err := toInt64(rawAmount)
		if err != nil {
			return "", 0, err
		}
		return recipient.Hex(), amount, nil
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	amount, err := toInt64(tx.Value())
	if err != nil {
		return "", 0, err
	}
	return to, amount, nil
}

func confirmations(head, included uint64) int64 {
	if head < included {
		return 0
	}
	return int64(head-included) + 1
}

func toInt64(n *big.Int) (int64, error) {
	if n == nil {
		return 0, nil
	}
	if !n.IsInt64() {
		return 0, stdErrors.New("金额超出 int64 可表示范围")
	}
	return n.Int64(), nil
}

var _ wallet.Gateway = (*Client)(nil)
