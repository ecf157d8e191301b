package host

import (
	"log/slog"
	"time"
)

// Config 控制特权主机行为。
type Config struct {
	// ChainID 在节点不可达时作为链标识的本地回退值。
	ChainID string
	// NetworkVersion 是主机上报的网络版本。
	NetworkVersion string
	// ConfirmTimeout 是签名确认的裁决窗口。
	ConfirmTimeout time.Duration
	// OnPrompt 在确认提示开启时回调，供确认界面订阅。可为空。
	OnPrompt func(PromptView)
	Logger   *slog.Logger
	Metrics  *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.ChainID == "" {
		cfg.ChainID = "spira-local"
	}
	if cfg.NetworkVersion == "" {
		cfg.NetworkVersion = "1"
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
