package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spirachain/wallet-bridge/pkg/txn"
)

// ErrUnknownPrompt 表示令牌对应的确认提示不存在或已被裁决。
var ErrUnknownPrompt = errors.New("unknown confirmation prompt")

// PromptView 是确认界面可见的提示内容。私钥与签名细节不在其中。
type PromptView struct {
	Token     string       `json:"token"`
	RequestID string       `json:"requestId"`
	Origin    string       `json:"origin"`
	Tx        txn.Unsigned `json:"tx"`
	CreatedAt time.Time    `json:"createdAt"`
}

// prompt 是一条待裁决的确认。decision 缓冲为 1：
// 裁决者写入后无需等待处理方读取。
type prompt struct {
	view     PromptView
	decision chan bool
}

// ConfirmManager 管理待确认的签名请求。
// 每条提示按页面侧关联请求 ID 开启，由确认界面用一次性令牌
// 裁决；从表中移除是唯一的裁决路径，批准、拒绝与超时竞争同
// 一条目，先到者生效。
type ConfirmManager struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	onOpen  func(PromptView)

	mu      sync.Mutex
	prompts map[string]*prompt
}

// ConfirmConfig 控制确认流行为。
type ConfirmConfig struct {
	// Timeout 是提示的裁决窗口，逾期按拒绝处理。
	// 必须短于页面侧请求截止时长，否则页面先超时、裁决结果作废。
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
	// OnOpen 在新提示开启时回调，供确认界面订阅。可为空。
	OnOpen func(PromptView)
}

// NewConfirmManager 构造确认管理器。
func NewConfirmManager(cfg ConfirmConfig) *ConfirmManager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmManager{
		timeout: timeout,
		logger:  logger,
		metrics: cfg.Metrics,
		onOpen:  cfg.OnOpen,
		prompts: make(map[string]*prompt),
	}
}

// Pending 返回当前所有待裁决提示的快照。
func (m *ConfirmManager) Pending() []PromptView {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]PromptView, 0, len(m.prompts))
	for _, p := range m.prompts {
		views = append(views, p.view)
	}
	return views
}

// Approve 批准令牌对应的提示。
func (m *ConfirmManager) Approve(token string) error {
	return m.resolve(token, true)
}

// Decline 拒绝令牌对应的提示。
func (m *ConfirmManager) Decline(token string) error {
	return m.resolve(token, false)
}

// open 开启一条新提示并通知确认界面。
func (m *ConfirmManager) open(requestID, origin string, tx txn.Unsigned) *prompt {
	p := &prompt{
		view: PromptView{
			Token:     uuid.NewString(),
			RequestID: requestID,
			Origin:    origin,
			Tx:        tx,
			CreatedAt: time.Now(),
		},
		decision: make(chan bool, 1),
	}
	m.mu.Lock()
	m.prompts[p.view.Token] = p
	m.mu.Unlock()
	m.metrics.setPendingConfirmations(m.count())

	m.logger.Info("confirmation prompt opened",
		slog.String("token", p.view.Token),
		slog.String("request_id", requestID),
		slog.String("origin", origin))
	if m.onOpen != nil {
		m.onOpen(p.view)
	}
	return p
}

// await 阻塞当前调用的 goroutine 直至裁决或窗口关闭。
// 只阻塞本次调用，不影响其他请求的受理。
func (m *ConfirmManager) await(ctx context.Context, p *prompt) bool {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case approved := <-p.decision:
		return approved
	case <-timer.C:
	case <-ctx.Done():
	}
	if m.expire(p.view.Token) {
		return false
	}
	// 裁决赶在移除之前落地，结果已在途。
	return <-p.decision
}

func (m *ConfirmManager) resolve(token string, approved bool) error {
	p := m.take(token)
	if p == nil {
		return ErrUnknownPrompt
	}
	p.decision <- approved
	outcome := "declined"
	if approved {
		outcome = "approved"
	}
	m.metrics.observeConfirmation(outcome)
	m.metrics.setPendingConfirmations(m.count())
	m.logger.Info("confirmation prompt resolved",
		slog.String("token", token),
		slog.String("outcome", outcome))
	return nil
}

// expire 移除仍未裁决的提示并报告是否移除成功；
// 裁决已先行发生时返回 false，裁决结果在 decision 通道中。
func (m *ConfirmManager) expire(token string) bool {
	p := m.take(token)
	if p == nil {
		return false
	}
	m.metrics.observeConfirmation("expired")
	m.metrics.setPendingConfirmations(m.count())
	m.logger.Warn("confirmation prompt expired", slog.String("token", p.view.Token))
	return true
}

func (m *ConfirmManager) take(token string) *prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[token]
	if !ok {
		return nil
	}
	delete(m.prompts, token)
	return p
}

func (m *ConfirmManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
