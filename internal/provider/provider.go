package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
	"golang.org/x/sync/singleflight"
)

// ErrClosed 表示 Provider 已关闭。
var ErrClosed = errors.New("provider closed")

// Provider 是注入页面上下文的能力代理。
// 它独占关联表：请求在这里登记，响应与超时在这里竞争收尾。
type Provider struct {
	cfg     Config
	bus     channel.Bus
	table   *table
	metrics *Metrics
	logger  *slog.Logger

	cancelSub func()
	closeOnce sync.Once

	// Enable 去重：并发的地址查询只发出一次请求。
	flight singleflight.Group

	accountMu sync.Mutex
	address   string
	connected bool

	events *eventRegistry
}

// New 构造 Provider 并订阅共享通道。
func New(bus channel.Bus, cfg Config) (*Provider, error) {
	if bus == nil {
		return nil, errors.New("shared channel bus is required")
	}
	normalized := cfg.normalize()
	p := &Provider{
		cfg:     normalized,
		bus:     bus,
		table:   newTable(),
		metrics: normalized.Metrics,
		logger:  normalized.Logger,
		events:  newEventRegistry(),
	}
	p.cancelSub = bus.Subscribe(p.onMessage)
	return p, nil
}

// Close 取消订阅并拒绝所有在飞请求。
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		if p.cancelSub != nil {
			p.cancelSub()
		}
		for _, entry := range p.table.takeAll() {
			p.metrics.observeOutcome("rejected", p.latencyMS(entry))
			entry.finish(StateRejected, channel.Outcome{Err: ErrClosed.Error()})
		}
	})
}

// Request 发起一次能力调用并等待终局。
// 挂起只在两个点被观察：匹配的入站信封到达，或截止定时器触发；
// ctx 取消是本设计补充的第三个写者，同样经由原子查删竞争条目。
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if method == "" {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "method is required")
	}
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		data, err := json.Marshal(param)
		if err != nil {
			return nil, apierrors.New(apierrors.CodeInvalidArgument, fmt.Sprintf("unencodable param: %v", err))
		}
		rawParams = append(rawParams, data)
	}

	entry := p.table.register(method, time.Now())
	p.metrics.incIssued()

	data, err := channel.EncodeOutbound(channel.OutboundRequest{ID: entry.id, Method: method, Params: rawParams})
	if err != nil {
		if taken := p.table.take(entry.id); taken != nil {
			p.metrics.observeOutcome("rejected", 0)
		}
		return nil, apierrors.New(apierrors.CodeInvalidArgument, fmt.Sprintf("encode envelope: %v", err))
	}

	p.bus.Publish(channel.Message{Origin: p.cfg.Origin, Data: data})
	p.table.markInFlight(entry.id)
	p.armDeadline(entry.id)

	select {
	case outcome := <-entry.done:
		return p.outcomeResult(outcome)
	case <-ctx.Done():
		if taken := p.table.take(entry.id); taken != nil {
			p.metrics.observeOutcome("canceled", p.latencyMS(taken))
			taken.finish(StateRejected, channel.Outcome{Err: ctx.Err().Error()})
			return nil, ctx.Err()
		}
		// 另一个写者先一步收尾，结果已在途。
		outcome := <-entry.done
		return p.outcomeResult(outcome)
	}
}

// PendingCount 返回关联表中的在飞请求数。
func (p *Provider) PendingCount() int {
	return p.table.size()
}

func (p *Provider) armDeadline(id int64) {
	timer := time.AfterFunc(p.cfg.RequestTimeout, func() { p.expire(id) })
	p.table.mu.Lock()
	entry, ok := p.table.entries[id]
	if ok {
		entry.timer = timer
	}
	p.table.mu.Unlock()
	if !ok {
		// 响应抢在定时器挂接之前到达。
		timer.Stop()
	}
}

// expire 是超时写者：条目仍在则移除并以 Timeout 拒绝，
// 已被响应写者取走则空转。
func (p *Provider) expire(id int64) {
	entry := p.table.take(id)
	if entry == nil {
		return
	}
	p.metrics.observeOutcome("timed_out", p.latencyMS(entry))
	p.logger.Warn("request deadline elapsed", slog.Int64("id", id), slog.String("method", entry.method))
	entry.finish(StateTimedOut, channel.Outcome{Err: apierrors.Timeout().Error()})
}

// onMessage 是响应写者：共享通道上的任何消息先过信封边界，
// 不匹配的流量静默忽略。
func (p *Provider) onMessage(msg channel.Message) {
	resp, ok := channel.DecodeInbound(msg.Data)
	if !ok {
		p.metrics.incDiscarded("not_inbound")
		return
	}
	entry := p.table.take(resp.ID)
	if entry == nil {
		// 已超时、已取消或根本未知的 ID：丢弃即正确。
		p.metrics.incDiscarded("stale_id")
		return
	}
	if resp.Outcome.IsErr() {
		p.metrics.observeOutcome("rejected", p.latencyMS(entry))
		entry.finish(StateRejected, resp.Outcome)
		return
	}
	p.metrics.observeOutcome("resolved", p.latencyMS(entry))
	entry.finish(StateResolved, resp.Outcome)
}

func (p *Provider) outcomeResult(outcome channel.Outcome) (json.RawMessage, error) {
	if outcome.IsErr() {
		return nil, apierrors.FromWireMessage(outcome.Err)
	}
	return outcome.Value, nil
}

func (p *Provider) latencyMS(entry *pendingEntry) float64 {
	return float64(time.Since(entry.createdAt).Milliseconds())
}
