package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/internal/hostrpc"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
)

// Caller 是中继对特权主机的唯一出口。
type Caller interface {
	Call(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error)
}

// CallerFunc 便于用函数直接充当 Caller。
type CallerFunc func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error)

// Call 实现 Caller。
func (f CallerFunc) Call(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
	return f(ctx, req)
}

// Relay 站在信任边界上：只放行来自可信页面来源、且能解析为
// 请求信封的消息，把它转发给特权主机，并保证对每个放行的请求
// 恰好发回一个携带相同 ID 的响应信封。
//
// 中继自身不持有跨调用状态，也从不主动发起请求；每次转发只带
// 发回响应所需的闭包状态（关联 ID 与方法名）。
type Relay struct {
	cfg     Config
	bus     channel.Bus
	caller  Caller
	limiter *rate.Limiter
	metrics *Metrics
	logger  *slog.Logger

	cancelSub func()
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New 构造中继并订阅共享通道。
func New(bus channel.Bus, caller Caller, cfg Config) (*Relay, error) {
	if bus == nil {
		return nil, errBusRequired
	}
	if caller == nil {
		return nil, errCallerRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	normalized := cfg.normalize()
	r := &Relay{
		cfg:     normalized,
		bus:     bus,
		caller:  caller,
		limiter: normalized.limiter(),
		metrics: normalized.Metrics,
		logger:  normalized.Logger,
	}
	r.cancelSub = bus.Subscribe(r.onMessage)
	return r, nil
}

// Close 取消订阅并等待在飞的转发调用发完响应。
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		if r.cancelSub != nil {
			r.cancelSub()
		}
		r.wg.Wait()
	})
}

// onMessage 是边界检查点。不符合任一放行条件的消息直接忽略，
// 不产生任何可观察的副作用（除计数）：共享通道是对抗性环境，
// 无关与恶意流量都属于常态。
func (r *Relay) onMessage(msg channel.Message) {
	req, ok := channel.DecodeOutbound(msg.Data)
	if !ok {
		r.metrics.incIgnored("not_request")
		return
	}
	if msg.Origin != r.cfg.PageOrigin {
		r.metrics.incIgnored("origin_mismatch")
		return
	}
	if r.limiter != nil && !r.limiter.Allow() {
		// 超限丢弃是安全的：页面侧会以超时收场。
		r.metrics.incRateDropped()
		return
	}
	r.metrics.incAccepted()

	r.wg.Add(1)
	go r.forward(req)
}

// forward 执行单次转发并发回唯一响应。
func (r *Relay) forward(req channel.OutboundRequest) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()

	r.metrics.incForwarded()
	result, err := r.caller.Call(ctx, &hostrpc.CallRequest{
		Type:      req.Method,
		Params:    req.Params,
		RequestID: strconv.FormatInt(req.ID, 10),
		Origin:    r.cfg.PageOrigin,
	})
	switch {
	case err != nil:
		// 传输层失败对页面呈现为网络错误。
		r.logger.Warn("host call failed",
			slog.Int64("id", req.ID),
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
		r.respondErr(req.ID, apierrors.NetworkError(err).Error())
	case result.Error != "":
		r.respondErr(req.ID, result.Error)
	default:
		r.respondOK(req.ID, result.Result)
	}
}

func (r *Relay) respondOK(id int64, value json.RawMessage) {
	data, err := channel.EncodeInbound(id, value)
	if err != nil {
		r.respondErr(id, apierrors.New(apierrors.CodeInternal, "unencodable host result").Error())
		return
	}
	r.metrics.incResponse("ok")
	r.bus.Publish(channel.Message{Origin: r.cfg.RelayOrigin, Data: data})
}

func (r *Relay) respondErr(id int64, message string) {
	data, err := channel.EncodeInboundError(id, message)
	if err != nil {
		// EncodeInboundError 只会因序列化字符串失败，实际不可达。
		r.logger.Error("encode error envelope failed", slog.Int64("id", id), slog.String("error", err.Error()))
		return
	}
	r.metrics.incResponse("err")
	r.bus.Publish(channel.Message{Origin: r.cfg.RelayOrigin, Data: data})
}

var (
	errBusRequired    = apierrors.New(apierrors.CodeInvalidArgument, "shared channel bus is required")
	errCallerRequired = apierrors.New(apierrors.CodeInvalidArgument, "host caller is required")
)
