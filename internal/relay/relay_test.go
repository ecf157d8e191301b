package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/internal/hostrpc"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
)

const testPageOrigin = "https://dapp.example"

// pageTap 站在页面视角收集中继发回的响应信封。
type pageTap struct {
	mu        sync.Mutex
	responses []channel.InboundResponse
}

func newPageTap(t *testing.T, bus *channel.LocalBus) *pageTap {
	t.Helper()
	tap := &pageTap{}
	cancel := bus.Subscribe(func(msg channel.Message) {
		resp, ok := channel.DecodeInbound(msg.Data)
		if !ok {
			return
		}
		tap.mu.Lock()
		tap.responses = append(tap.responses, resp)
		tap.mu.Unlock()
	})
	t.Cleanup(cancel)
	return tap
}

func (p *pageTap) all() []channel.InboundResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]channel.InboundResponse(nil), p.responses...)
}

func (p *pageTap) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}

func newTestRelay(t *testing.T, bus *channel.LocalBus, caller Caller, mutate ...func(*Config)) *Relay {
	t.Helper()
	cfg := Config{
		PageOrigin:  testPageOrigin,
		CallTimeout: time.Second,
		Metrics:     NewMetrics(prometheus.NewRegistry()),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	r, err := New(bus, caller, cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func publishRequest(t *testing.T, bus *channel.LocalBus, origin string, req channel.OutboundRequest) {
	t.Helper()
	data, err := channel.EncodeOutbound(req)
	require.NoError(t, err)
	bus.Publish(channel.Message{Origin: origin, Data: data})
}

func TestRelayForwardsAndRespondsWithSameID(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	var gotReq *hostrpc.CallRequest
	var mu sync.Mutex
	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		mu.Lock()
		gotReq = req
		mu.Unlock()
		return &hostrpc.CallResult{Result: json.RawMessage(`{"balance":"42"}`)}, nil
	})
	newTestRelay(t, bus, caller)

	publishRequest(t, bus, testPageOrigin, channel.OutboundRequest{
		ID:     7,
		Method: channel.MethodGetBalance,
		Params: []json.RawMessage{json.RawMessage(`"0xabc"`)},
	})

	require.Eventually(t, func() bool { return tap.count() == 1 }, time.Second, 5*time.Millisecond)
	resp := tap.all()[0]
	require.Equal(t, int64(7), resp.ID)
	require.False(t, resp.Outcome.IsErr())
	require.JSONEq(t, `{"balance":"42"}`, string(resp.Outcome.Value))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, channel.MethodGetBalance, gotReq.Type)
	require.Equal(t, "7", gotReq.RequestID)
	require.Equal(t, testPageOrigin, gotReq.Origin)
}

func TestRelayIgnoresForeignOrigin(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	called := make(chan struct{}, 1)
	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		called <- struct{}{}
		return &hostrpc.CallResult{}, nil
	})
	newTestRelay(t, bus, caller)

	publishRequest(t, bus, "https://evil.example", channel.OutboundRequest{ID: 1, Method: channel.MethodGetBalance})

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, called)
	require.Zero(t, tap.count())
}

func TestRelayIgnoresNonRequestTraffic(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		t.Error("caller must not be reached")
		return nil, nil
	})
	newTestRelay(t, bus, caller)

	// 非 JSON、错 tag、缺 id：可信来源也不放行格式不符的消息。
	bus.Publish(channel.Message{Origin: testPageOrigin, Data: []byte(`garbage`)})
	bus.Publish(channel.Message{Origin: testPageOrigin, Data: []byte(`{"tag":"other","id":1,"method":"X"}`)})
	bus.Publish(channel.Message{Origin: testPageOrigin, Data: []byte(`{"tag":"provider-request","method":"X"}`)})

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, tap.count())
}

func TestRelayHostErrorBecomesErrorEnvelope(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		return &hostrpc.CallResult{Error: apierrors.UnknownMethod(req.Type).Error()}, nil
	})
	newTestRelay(t, bus, caller)

	publishRequest(t, bus, testPageOrigin, channel.OutboundRequest{ID: 3, Method: "NOT_A_METHOD"})

	require.Eventually(t, func() bool { return tap.count() == 1 }, time.Second, 5*time.Millisecond)
	resp := tap.all()[0]
	require.Equal(t, int64(3), resp.ID)
	require.True(t, resp.Outcome.IsErr())
	require.Equal(t, apierrors.CodeUnknownMethod, apierrors.FromWireMessage(resp.Outcome.Err).Code)
}

func TestRelayTransportFailureBecomesNetworkError(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		return nil, errors.New("connection refused")
	})
	newTestRelay(t, bus, caller)

	publishRequest(t, bus, testPageOrigin, channel.OutboundRequest{ID: 9, Method: channel.MethodGetWalletAddress})

	require.Eventually(t, func() bool { return tap.count() == 1 }, time.Second, 5*time.Millisecond)
	resp := tap.all()[0]
	require.Equal(t, int64(9), resp.ID)
	require.True(t, resp.Outcome.IsErr())
	require.Equal(t, apierrors.CodeNetworkError, apierrors.FromWireMessage(resp.Outcome.Err).Code)
}

func TestRelayExactlyOneResponsePerRequest(t *testing.T) {
	bus := channel.NewLocalBus(channel.WithSubscriberBuffer(256))
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		return &hostrpc.CallResult{Result: json.RawMessage(`"ok"`)}, nil
	})
	newTestRelay(t, bus, caller)

	const n = 24
	for i := 1; i <= n; i++ {
		publishRequest(t, bus, testPageOrigin, channel.OutboundRequest{ID: int64(i), Method: channel.MethodGetChainID})
	}

	require.Eventually(t, func() bool { return tap.count() == n }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, tap.count())

	seen := make(map[int64]int)
	for _, resp := range tap.all() {
		seen[resp.ID]++
	}
	for i := 1; i <= n; i++ {
		require.Equal(t, 1, seen[int64(i)], "id %d must get exactly one response", i)
	}
}

func TestRelayRateLimitDropsSilently(t *testing.T) {
	bus := channel.NewLocalBus(channel.WithSubscriberBuffer(256))
	t.Cleanup(bus.Close)
	tap := newPageTap(t, bus)

	caller := CallerFunc(func(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
		return &hostrpc.CallResult{Result: json.RawMessage(`"ok"`)}, nil
	})
	newTestRelay(t, bus, caller, func(cfg *Config) {
		cfg.RatePerSecond = 0.001
		cfg.RateBurst = 2
	})

	for i := 1; i <= 10; i++ {
		publishRequest(t, bus, testPageOrigin, channel.OutboundRequest{ID: int64(i), Method: channel.MethodGetChainID})
	}

	// 令牌桶容量为 2：只有前两个请求得到响应，其余静默丢弃。
	require.Eventually(t, func() bool { return tap.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, tap.count())
}
