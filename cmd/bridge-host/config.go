package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
	"gopkg.in/yaml.v3"
)

// fileConfig 是 bridge-host 的 yaml 配置，环境变量可逐项覆盖。
type fileConfig struct {
	Listen         string        `yaml:"listen"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	WalletPath     string        `yaml:"wallet_path"`
	NodeURL        string        `yaml:"node_url"`
	ChainID        string        `yaml:"chain_id"`
	NetworkVersion string        `yaml:"network_version"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Listen:      "tcp://:9090",
		MetricsAddr: ":9100",
		WalletPath:  "wallet.json",
		NodeURL:     "http://127.0.0.1:8545",
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if cfg.WalletPath == "" {
		return cfg, fmt.Errorf("wallet_path is required")
	}
	if cfg.NodeURL == "" {
		return cfg, fmt.Errorf("node_url is required")
	}
	return cfg, nil
}

func applyEnv(cfg *fileConfig) {
	if v := os.Getenv("BRIDGE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BRIDGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("BRIDGE_WALLET_PATH"); v != "" {
		cfg.WalletPath = v
	}
	if v := os.Getenv("BRIDGE_NODE_URL"); v != "" {
		cfg.NodeURL = v
	}
	if v := os.Getenv("BRIDGE_CHAIN_ID"); v != "" {
		cfg.ChainID = v
	}
	if v := os.Getenv("BRIDGE_NETWORK_VERSION"); v != "" {
		cfg.NetworkVersion = v
	}
	if v := os.Getenv("BRIDGE_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConfirmTimeout = d
		}
	}
}

// listen 支持 tcp://addr、unix://path 与 vsock://port 三种监听端点。
func listen(endpoint string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(endpoint, "unix://"):
		return net.Listen("unix", strings.TrimPrefix(endpoint, "unix://"))
	case strings.HasPrefix(endpoint, "vsock://"):
		port, err := strconv.ParseUint(strings.TrimPrefix(endpoint, "vsock://"), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port: %w", err)
		}
		return vsock.Listen(uint32(port), nil)
	case strings.HasPrefix(endpoint, "tcp://"):
		return net.Listen("tcp", strings.TrimPrefix(endpoint, "tcp://"))
	default:
		return net.Listen("tcp", endpoint)
	}
}
