package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 ticketchaind 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Wallet   WalletConfig   `json:"wallet"`
	Payment  PaymentConfig  `json:"payment"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述支付意向存储后端的连接信息。
type StorageConfig struct {
	IntentStore IntentStoreConfig `json:"intent_store"`
}

// IntentStoreConfig 支持内存实现与 MySQL 实现。
type IntentStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述核验轮询队列的后端。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// WalletConfig 包含访问结算链所需的参数。
type WalletConfig struct {
	Driver         string `json:"driver"`
	Chain          string `json:"chain"`
	ChainsFile     string `json:"chains_file"`
	PayToAddress   string `json:"pay_to_address"`
	PrivateKeyHex  string `json:"private_key_hex"`
	CallTimeoutSec int    `json:"call_timeout_seconds"`
}

// PaymentConfig 控制支付核验与过期回收的行为。
type PaymentConfig struct {
	IntentTTLSeconds    int     `json:"intent_ttl_seconds"`
	ReapIntervalSeconds int     `json:"reap_interval_seconds"`
	MinConfirmations    int64   `json:"min_confirmations"`
	ToleranceFraction   float64 `json:"tolerance_fraction"`
	PollWorkers         int     `json:"poll_workers"`
	PollIntervalSeconds int     `json:"poll_interval_seconds"`
}

// AlertingConfig 控制关键失败（网关中断、存储失败等）的告警投递。
// 未配置任何渠道时告警仅落结构化日志。
type AlertingConfig struct {
	Enabled            bool   `json:"enabled"`
	SlackWebhookURL    string `json:"slack_webhook_url"`
	SlackChannel       string `json:"slack_channel"`
	DingTalkWebhookURL string `json:"dingtalk_webhook_url"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir     string `json:"data_dir"`
	CatalogFile string `json:"catalog_file"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.IntentStore.Driver == "" {
		c.Storage.IntentStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}

	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "memory"
	}
	if c.Wallet.Chain == "" {
		c.Wallet.Chain = "base-sepolia"
	}
	if c.Wallet.ChainsFile != "" && !filepath.IsAbs(c.Wallet.ChainsFile) {
		c.Wallet.ChainsFile = filepath.Join(baseDir, c.Wallet.ChainsFile)
	}
	if c.Wallet.CallTimeoutSec <= 0 {
		c.Wallet.CallTimeoutSec = 10
	}

	if c.Payment.IntentTTLSeconds <= 0 {
		c.Payment.IntentTTLSeconds = 900
	}
	if c.Payment.ReapIntervalSeconds <= 0 {
		c.Payment.ReapIntervalSeconds = 60
	}
	if c.Payment.MinConfirmations <= 0 {
		c.Payment.MinConfirmations = 2
	}
	if c.Payment.ToleranceFraction <= 0 {
		c.Payment.ToleranceFraction = 0.01
	}
	if c.Payment.PollWorkers <= 0 {
		c.Payment.PollWorkers = 4
	}
	if c.Payment.PollIntervalSeconds <= 0 {
		c.Payment.PollIntervalSeconds = 15
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.CatalogFile != "" && !filepath.IsAbs(c.Runtime.CatalogFile) {
		c.Runtime.CatalogFile = filepath.Join(baseDir, c.Runtime.CatalogFile)
	}
}
