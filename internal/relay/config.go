package relay

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const defaultCallTimeout = 25 * time.Second

// Config 控制中继行为。
type Config struct {
	// PageOrigin 是唯一可信的页面来源，其余来源的消息一律忽略。
	PageOrigin string
	// RelayOrigin 标记中继发回共享通道的响应来源。
	RelayOrigin string
	// CallTimeout 是单次转发调用的截止时长，应短于页面侧截止时长，
	// 以便超时原因能以错误信封形式回到页面，而非只靠页面自行超时。
	CallTimeout time.Duration
	// RatePerSecond > 0 时启用令牌桶限速，超限的信封静默丢弃。
	RatePerSecond float64
	// RateBurst 是令牌桶容量，仅在启用限速时生效。
	RateBurst int
	Logger    *slog.Logger
	Metrics   *Metrics
}

func (c *Config) validate() error {
	if c.PageOrigin == "" {
		return errors.New("page origin is required")
	}
	return nil
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.RelayOrigin == "" {
		cfg.RelayOrigin = "relay"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (c Config) limiter() *rate.Limiter {
	if c.RatePerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RatePerSecond), c.RateBurst)
}
