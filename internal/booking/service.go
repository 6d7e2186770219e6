package booking

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"TicketChain/internal/catalog"
	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/payment"
	"TicketChain/internal/ticket"
	"TicketChain/internal/wallet"
	"TicketChain/pkg/logger"
)

// Service 把目录、库存、支付意向与结算引擎编排成面向外部的预订操作。
// 它自身不做状态机转换：所有终态推进都委托给结算引擎的 CAS。
type Service struct {
	catalog  catalog.Provider
	ledger   *inventory.Ledger
	intents  intent.Store
	tickets  ticket.Store
	gateway  wallet.Gateway
	verifier *payment.Verifier
	engine   *payment.Engine
	producer payment.Producer
	ttl      time.Duration
	log      *slog.Logger
}

// Config 汇总构造 Service 所需的依赖。
type Config struct {
	Catalog   catalog.Provider
	Ledger    *inventory.Ledger
	Intents   intent.Store
	Tickets   ticket.Store
	Gateway   wallet.Gateway
	Verifier  *payment.Verifier
	Engine    *payment.Engine
	Producer  payment.Producer
	IntentTTL time.Duration
}

// NewService 构造预订服务，并把目录中的活动注册进库存台账。
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil || cfg.Ledger == nil || cfg.Intents == nil || cfg.Tickets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "预订服务缺少必需依赖")
	}
	if cfg.Gateway == nil || cfg.Verifier == nil || cfg.Engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "预订服务缺少支付依赖")
	}
	ttl := cfg.IntentTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	for _, ev := range cfg.Catalog.ListEvents("", "") {
		cfg.Ledger.Register(ev.ID, ev.TotalTickets)
	}
	return &Service{
		catalog:  cfg.Catalog,
		ledger:   cfg.Ledger,
		intents:  cfg.Intents,
		tickets:  cfg.Tickets,
		gateway:  cfg.Gateway,
		verifier: cfg.Verifier,
		engine:   cfg.Engine,
		producer: cfg.Producer,
		ttl:      ttl,
		log:      logger.Named("booking"),
	}, nil
}

// ReserveRequest 描述一次购票请求。活动可以按 ID 或名称指定。
type ReserveRequest struct {
	EventID      string `json:"event_id,omitempty"`
	EventName    string `json:"event_name,omitempty"`
	Quantity     int64  `json:"quantity"`
	BuyerContact string `json:"buyer_contact,omitempty"`
}

// Reservation 是预订成功后的支付指引。
type Reservation struct {
	IntentID          string        `json:"intent_id"`
	TicketID          string        `json:"ticket_id"`
	Event             catalog.Event `json:"event"`
	Quantity          int64         `json:"quantity"`
	AmountUSD         float64       `json:"amount_usd"`
	AmountLedgerUnits int64         `json:"amount_ledger_units"`
	Currency          string        `json:"currency"`
	PayToAddress      string        `json:"pay_to_address"`
	ExpiresAt         int64         `json:"expires_at"`
}

// ReserveTickets 占用库存并生成待支付的意向。
// 占用在意向过期或取消前一直有效，金额换算只在此处发生一次。
func (s *Service) ReserveTickets(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.Quantity <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "购票数量必须为正数")
	}

	ev, err := s.resolveEvent(req.EventID, req.EventName)
	if err != nil {
		return nil, err
	}

	amountUSD := ev.PriceUSD * float64(req.Quantity)
	units, err := intent.LedgerUnits(amountUSD)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ev.ID, req.Quantity)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tk := &ticket.Ticket{
		ID:            uuid.NewString(),
		EventID:       ev.ID,
		ReservationID: res.ID,
		Quantity:      req.Quantity,
		HolderContact: req.BuyerContact,
		Status:        ticket.StatusPendingPayment,
	}
	if err := s.tickets.Create(ctx, tk); err != nil {
		_ = s.ledger.Release(res.ID)
		return nil, err
	}

	in := &intent.PaymentIntent{
		ID:                uuid.NewString(),
		EventID:           ev.ID,
		ReservationID:     res.ID,
		TicketID:          tk.ID,
		Quantity:          req.Quantity,
		BuyerContact:      req.BuyerContact,
		AmountUSD:         amountUSD,
		AmountLedgerUnits: units,
		Currency:          "USDC",
		PayToAddress:      s.gateway.Address(),
		Status:            intent.StatusPending,
		ExpiresAt:         now.Add(s.ttl).Unix(),
	}
	if err := s.intents.Create(ctx, in); err != nil {
		_ = s.ledger.Release(res.ID)
		_ = s.tickets.MarkCancelled(ctx, tk.ID)
		return nil, err
	}

	if s.producer != nil {
		if err := s.producer.Publish(ctx, in.ID); err != nil {
			// 投递失败不回滚预订：轮询调度会兜底。
			s.log.Warn("投递核验队列失败", slog.String("intent_id", in.ID), slog.Any("error", err))
		}
	}

	logger.Audit().Info("预订成功",
		slog.String("intent_id", in.ID),
		slog.String("event_id", ev.ID),
		slog.String("ticket_id", tk.ID),
		slog.Int64("quantity", req.Quantity),
		slog.Int64("amount_units", units))

	return &Reservation{
		IntentID:          in.ID,
		TicketID:          tk.ID,
		Event:             ev,
		Quantity:          req.Quantity,
		AmountUSD:         amountUSD,
		AmountLedgerUnits: units,
		Currency:          in.Currency,
		PayToAddress:      in.PayToAddress,
		ExpiresAt:         in.ExpiresAt,
	}, nil
}

// PaymentStatus 是 CheckPaymentStatus 的返回结果。
type PaymentStatus struct {
	IntentID      string         `json:"intent_id"`
	Status        intent.Status  `json:"status"`
	Matched       bool           `json:"matched"`
	TxHash        string         `json:"tx_hash,omitempty"`
	Confirmations int64          `json:"confirmations,omitempty"`
	ExpiresAt     int64          `json:"expires_at"`
	Ticket        *ticket.Ticket `json:"ticket,omitempty"`
}

// CheckPaymentStatus 报告支付意向的当前状态。
// 对仍在等待的意向顺带做一次核验，匹配即结算；已超时的意向就地过期。
func (s *Service) CheckPaymentStatus(ctx context.Context, intentID string) (*PaymentStatus, error) {
	in, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	status := &PaymentStatus{IntentID: in.ID, Status: in.Status, ExpiresAt: in.ExpiresAt}

	if intent.IsTerminal(in.Status) {
		s.fillTerminal(ctx, in, status)
		return status, nil
	}

	if time.Now().Unix() >= in.ExpiresAt {
		if err := s.engine.Expire(ctx, in.ID); err != nil {
			return nil, err
		}
		status.Status = intent.StatusExpired
		return status, nil
	}

	result, err := s.verifier.CheckIntent(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if !result.Matched {
		return status, nil
	}

	outcome, err := s.engine.Settle(ctx, in.ID, result)
	if err != nil {
		if stdErrors.Is(err, intent.ErrIntentExpired) {
			status.Status = intent.StatusExpired
			return status, nil
		}
		return nil, err
	}
	status.Status = outcome.Status
	status.Matched = true
	status.TxHash = outcome.TxHash
	status.Confirmations = outcome.Confirmations
	status.Ticket = outcome.Ticket
	return status, nil
}

// ConfirmTransaction 依据买方提供的交易哈希结算支付意向。
// 哈希只是线索：金额、收款方、确认数全部独立重查，伪造哈希不会出票。
func (s *Service) ConfirmTransaction(ctx context.Context, intentID, txHash string) (*payment.Outcome, error) {
	result, err := s.verifier.VerifyTransaction(ctx, intentID, txHash)
	if err != nil {
		return nil, err
	}
	if !result.Matched {
		return nil, xerrors.New(payment.CodePaymentNotObserved,
			fmt.Sprintf("交易 %s 未通过核验", txHash))
	}
	return s.engine.Settle(ctx, intentID, result)
}

// WalletBalance 是钱包余额查询的结果。Address 始终是实际查询的地址，
// 调用方传空地址时这里回填钱包自身地址。
type WalletBalance struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	Network string `json:"network"`
}

// Balance 查询地址余额；地址为空时查钱包自身。
func (s *Service) Balance(ctx context.Context, address string) (*WalletBalance, error) {
	if strings.TrimSpace(address) == "" {
		address = s.gateway.Address()
	}
	balance, err := s.gateway.Balance(ctx, address)
	if err != nil {
		return nil, err
	}
	return &WalletBalance{
		Address: address,
		Balance: balance,
		Network: s.gateway.Network(),
	}, nil
}

// Disbursement 是一次对外打款的回执。Amount 是实际转出的账本单位。
type Disbursement struct {
	TxHash    string  `json:"tx_hash"`
	To        string  `json:"to"`
	AmountUSD float64 `json:"amount_usd"`
	Amount    int64   `json:"amount"`
	FeeEst    int64   `json:"fee_estimate"`
	Memo      string  `json:"memo,omitempty"`
	Network   string  `json:"network"`
}

// SendDisbursement 从钱包向外转账（主办方分账、退款等）。
// 金额以美元给出，换算只在此处发生一次；memo 跟随回执与审计日志，
// 不上链。先估算手续费并确认余额足以覆盖本金加手续费，再发起转账。
func (s *Service) SendDisbursement(ctx context.Context, toAddress string, amountUSD float64, memo string) (*Disbursement, error) {
	amount, err := intent.LedgerUnits(amountUSD)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "打款金额必须为正数")
	}
	fee, err := s.gateway.EstimateFee(ctx, toAddress, amount)
	if err != nil {
		return nil, err
	}
	balance, err := s.gateway.Balance(ctx, s.gateway.Address())
	if err != nil {
		return nil, err
	}
	if balance < amount+fee {
		return nil, wallet.ErrInsufficientBalance
	}

	txHash, err := s.gateway.Transfer(ctx, toAddress, amount)
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("对外打款完成",
		slog.String("tx_hash", txHash),
		slog.String("to", toAddress),
		slog.Float64("amount_usd", amountUSD),
		slog.Int64("amount_units", amount),
		slog.Int64("fee_estimate", fee),
		slog.String("memo", memo))

	return &Disbursement{
		TxHash:    txHash,
		To:        toAddress,
		AmountUSD: amountUSD,
		Amount:    amount,
		FeeEst:    fee,
		Memo:      memo,
		Network:   s.gateway.Network(),
	}, nil
}

// Events 按类别与城市检索活动，并附带实时可售数量。
func (s *Service) Events(category, city string) []EventAvailability {
	events := s.catalog.ListEvents(category, city)
	out := make([]EventAvailability, 0, len(events))
	for _, ev := range events {
		available, err := s.ledger.Available(ev.ID)
		if err != nil {
			available = 0
		}
		out = append(out, EventAvailability{Event: ev, Available: available})
	}
	return out
}

// EventAvailability 把目录信息与库存余量合并返回。
type EventAvailability struct {
	catalog.Event
	Available int64 `json:"available"`
}

// Venues 按城市检索场馆。
func (s *Service) Venues(city string) []catalog.Venue {
	return s.catalog.ListVenues(city)
}

// Tickets 按状态检索票据，状态为空时返回全部。
func (s *Service) Tickets(ctx context.Context, status ticket.Status, limit int) ([]*ticket.Ticket, error) {
	return s.tickets.ListByStatus(ctx, status, limit)
}

// PendingIntent 返回最早创建的待付款意向，便于运营排查。
func (s *Service) PendingIntent(ctx context.Context) (*intent.PaymentIntent, error) {
	pending, err := s.intents.ListByStatus(ctx, intent.StatusPending, 1)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, intent.ErrIntentNotFound
	}
	return pending[0], nil
}

func (s *Service) resolveEvent(id, name string) (catalog.Event, error) {
	if strings.TrimSpace(id) != "" {
		if ev, ok := s.catalog.GetEvent(id); ok {
			return ev, nil
		}
		return catalog.Event{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("活动 %s 不存在", id))
	}
	if strings.TrimSpace(name) != "" {
		if ev, ok := s.catalog.FindEventByName(name); ok {
			return ev, nil
		}
		return catalog.Event{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("没有名称与 %q 匹配的活动", name))
	}
	return catalog.Event{}, xerrors.New(xerrors.CodeInvalidArgument, "必须提供活动 ID 或名称")
}

func (s *Service) fillTerminal(ctx context.Context, in *intent.PaymentIntent, status *PaymentStatus) {
	if in.Status != intent.StatusCompleted {
		return
	}
	status.Matched = true
	status.TxHash = in.ConfirmedTxHash
	status.Confirmations = in.Confirmations
	if tk, err := s.tickets.Get(ctx, in.TicketID); err == nil {
		status.Ticket = tk
	}
}
