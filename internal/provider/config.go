package provider

import (
	"log/slog"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// Config 控制 Provider 行为。
type Config struct {
	// Origin 是本页面上下文的表观来源，随每个出站信封一起发布。
	Origin string
	// RequestTimeout 是单个请求的截止时长，超时后以 Timeout 拒绝。
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
