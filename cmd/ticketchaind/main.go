package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"TicketChain/internal/api"
	"TicketChain/internal/booking"
	"TicketChain/internal/catalog"
	"TicketChain/internal/config"
	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/observability/alerting"
	"TicketChain/internal/payment"
	"TicketChain/internal/ticket"
	"TicketChain/internal/wallet"
	"TicketChain/internal/wallet/ethereum"
	"TicketChain/pkg/logger"
)

// main 是 TicketChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ticketchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("TICKETCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "ticketchain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditEnabled,
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 活动目录。
	var provider catalog.Provider
	if cfg.Runtime.CatalogFile != "" {
		static, err := catalog.LoadStaticProvider(cfg.Runtime.CatalogFile)
		if err != nil {
			return err
		}
		provider = static
	} else {
		provider = catalog.NewStaticProvider(catalog.DefaultEvents(), catalog.DefaultVenues())
	}

	// 支付意向存储。
	var intents intent.Store
	switch cfg.Storage.IntentStore.Driver {
	case "", "memory":
		intents = intent.NewMemoryStore()
	case "mysql":
		store, err := intent.NewMySQLStore(cfg.Storage.IntentStore.DSN)
		if err != nil {
			return err
		}
		intents = store
	default:
		return fmt.Errorf("未知的意向存储驱动: %s", cfg.Storage.IntentStore.Driver)
	}
	defer func() { _ = intents.Close() }()

	tickets := ticket.NewMemoryStore()
	defer func() { _ = tickets.Close() }()

	// 核验队列。
	var queue payment.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = payment.NewMemoryQueue(1024)
	case "redis":
		q, err := payment.NewRedisQueue(payment.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
		if err != nil {
			return err
		}
		queue = q
	case "rabbitmq":
		q, err := payment.NewRabbitMQQueue(payment.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		queue = q
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭核验队列失败: %v", err)
		}
	}()

	// 钱包网关。
	gateway, err := createGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gateway.Close()

	ledger := inventory.NewLedger()
	verifier := payment.NewVerifier(intents, gateway, cfg.Payment.MinConfirmations, cfg.Payment.ToleranceFraction)
	engine := payment.NewEngine(intents, tickets, ledger)

	service, err := booking.NewService(booking.Config{
		Catalog:   provider,
		Ledger:    ledger,
		Intents:   intents,
		Tickets:   tickets,
		Gateway:   gateway,
		Verifier:  verifier,
		Engine:    engine,
		Producer:  queue,
		IntentTTL: time.Duration(cfg.Payment.IntentTTLSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	// 关键失败的告警派发。
	alerter := createAlerter(cfg.Alerting)

	// 后台核验轮询。
	poller := payment.NewPoller(intents, verifier, engine, queue,
		payment.WithPollerWorkers(cfg.Payment.PollWorkers),
		payment.WithPollerInterval(time.Duration(cfg.Payment.PollIntervalSeconds)*time.Second),
		payment.WithPollerAlerter(alerter),
	)
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("核验轮询异常退出: %v", err)
		}
	}()

	// 过期回收。
	reaper := payment.NewReaper(intents, engine, time.Duration(cfg.Payment.ReapIntervalSeconds)*time.Second,
		payment.WithReaperAlerter(alerter))
	go func() {
		if err := reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("过期回收异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, service)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createAlerter 依据配置组装告警渠道。未启用时返回 nil，
// 启用但没有外部渠道时至少保留日志兜底。
func createAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.SlackWebhookURL},
			ChannelID: cfg.SlackChannel,
		})
	}
	if cfg.DingTalkWebhookURL != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.DingTalkWebhookURL},
		})
	}
	return alerting.NewFanout(notifiers...)
}

// createGateway 依据配置选择结算网关驱动。
func createGateway(ctx context.Context, cfg *config.Config) (wallet.Gateway, error) {
	switch cfg.Wallet.Driver {
	case "", "memory":
		address := cfg.Wallet.PayToAddress
		if address == "" {
			address = "0x0000000000000000000000000000000000000001"
		}
		return wallet.NewMemoryGateway(address, "memory", 0), nil
	case "ethereum":
		defs, err := wallet.LoadChainDefinitions(cfg.Wallet.ChainsFile)
		if err != nil {
			return nil, err
		}
		def, ok := defs.Chains[cfg.Wallet.Chain]
		if !ok {
			return nil, fmt.Errorf("链配置中没有 %s", cfg.Wallet.Chain)
		}
		dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Wallet.CallTimeoutSec)*time.Second)
		defer cancel()
		return ethereum.NewClient(dialCtx, ethereum.Config{
			Name:          cfg.Wallet.Chain,
			RPCURL:        def.RPCURL,
			ChainID:       def.ChainID,
			TokenContract: def.TokenContract,
			TokenSymbol:   def.TokenSymbol,
			PrivateKeyHex: cfg.Wallet.PrivateKeyHex,
			Notes:         def.Description,
		})
	default:
		return nil, fmt.Errorf("未知的钱包驱动: %s", cfg.Wallet.Driver)
	}
}
