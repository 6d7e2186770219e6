package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ticketchain.json")
	if err := os.WriteFile(path, []byte(`{"wallet": {"chains_file": "chains.yaml"}}`), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址 = %s", cfg.Server.Address)
	}
	if cfg.Storage.IntentStore.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.Wallet.Driver != "memory" {
		t.Fatalf("默认驱动异常: %+v", cfg)
	}
	if cfg.Payment.IntentTTLSeconds != 900 || cfg.Payment.MinConfirmations != 2 || cfg.Payment.ToleranceFraction != 0.01 {
		t.Fatalf("默认支付参数异常: %+v", cfg.Payment)
	}
	if cfg.Wallet.Chain != "base-sepolia" {
		t.Fatalf("默认链 = %s", cfg.Wallet.Chain)
	}
	if cfg.Wallet.ChainsFile != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("链配置路径未基于配置目录展开: %s", cfg.Wallet.ChainsFile)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("数据目录 = %s", cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("不存在的配置文件应当报错")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("空路径应当报错")
	}
}
