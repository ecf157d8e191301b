package chainrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/spirachain/wallet-bridge/pkg/apierrors"
	"github.com/spirachain/wallet-bridge/pkg/txn"
)

// ErrSubmitRejected 表示节点受理了请求但拒绝了交易本身。
var ErrSubmitRejected = errors.New("transaction rejected by node")

// Config 控制节点客户端的 retry 行为。
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// BalanceResponse 是节点返回的余额查询结果。
// 余额是十进制字符串，节点侧按 u128 记账，不能假设装得进 uint64。
type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// SubmitResponse 是节点对交易提交的受理结果。
type SubmitResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
	Message string `json:"message"`
}

// StatusResponse 是节点状态快照。节点不上报链标识或协议版本，
// 这两项由主机配置提供。
type StatusResponse struct {
	ChainHeight    uint64 `json:"chain_height"`
	MempoolSize    int    `json:"mempool_size"`
	ConnectedPeers int    `json:"connected_peers"`
	IsValidator    bool   `json:"is_validator"`
	IsSyncing      bool   `json:"is_syncing"`
}

// Client 封装对链节点 HTTP API 的全部调用。
// 任何失败（连接、超时、非 2xx、响应不可解析）对上层统一呈现
// 为 NETWORK_ERROR；重试在这里内部收敛，桥接层自身不重试。
type Client struct {
	cfg     Config
	baseURL *url.URL
	httpc   *http.Client

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewClient 构造节点客户端。
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("node base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse node base url: %w", err)
	}
	normalized := cfg
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = 5 * time.Second
	}
	if normalized.MaxAttempts <= 0 {
		normalized.MaxAttempts = 3
	}
	if normalized.InitialBackoff <= 0 {
		normalized.InitialBackoff = 50 * time.Millisecond
	}
	if normalized.MaxBackoff <= 0 {
		normalized.MaxBackoff = time.Second
	}
	if normalized.JitterFactor <= 0 {
		normalized.JitterFactor = 0.2
	}
	if normalized.Logger == nil {
		normalized.Logger = slog.Default()
	}
	httpc := normalized.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: normalized.RequestTimeout}
	}
	return &Client{
		cfg:     normalized,
		baseURL: base,
		httpc:   httpc,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// GetBalance 查询地址余额。
func (c *Client) GetBalance(ctx context.Context, address string) (*BalanceResponse, error) {
	var out BalanceResponse
	if err := c.retry(ctx, "get balance", func() error {
		return c.doJSON(ctx, http.MethodGet, "/balance/"+url.PathEscape(address), nil, &out)
	}); err != nil {
		return nil, apierrors.NetworkError(err)
	}
	return &out, nil
}

// GetStatus 查询节点状态。
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.retry(ctx, "get status", func() error {
		return c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	}); err != nil {
		return nil, apierrors.NetworkError(err)
	}
	return &out, nil
}

// SubmitTransaction 将签名后的交易以 hex 形式提交给节点。
// 节点按交易哈希去重，重试提交是安全的。
func (c *Client) SubmitTransaction(ctx context.Context, signed *txn.Signed) (*SubmitResponse, error) {
	raw, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}
	body := map[string]string{"tx_hex": hex.EncodeToString(raw)}

	var out SubmitResponse
	if err := c.retry(ctx, "submit transaction", func() error {
		return c.doJSON(ctx, http.MethodPost, "/submit_transaction", body, &out)
	}); err != nil {
		return nil, apierrors.NetworkError(err)
	}
	if !out.Success {
		return &out, fmt.Errorf("%w: %s", ErrSubmitRejected, out.Message)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	target := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("node returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode node response: %w", err)
	}
	return nil
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		c.cfg.Logger.Warn("node call failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("err", lastErr))
		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoffDuration(attempt)):
		}
	}
	return lastErr
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	delay := c.cfg.InitialBackoff * time.Duration(1<<(attempt-1))
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	jitter := time.Duration(float64(delay) * c.cfg.JitterFactor)
	if jitter <= 0 {
		return delay
	}
	c.randMu.Lock()
	delta := time.Duration(c.rnd.Int63n(int64(2*jitter)+1)) - jitter
	c.randMu.Unlock()
	delay += delta
	if delay < 0 {
		return 0
	}
	return delay
}
