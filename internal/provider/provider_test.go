package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
	"github.com/stretchr/testify/require"
)

// scriptedHost 在测试里顶替「中继+主机」：监听出站信封并按脚本应答。
type scriptedHost struct {
	bus    *channel.LocalBus
	mu     sync.Mutex
	script func(req channel.OutboundRequest) (json.RawMessage, string, bool)
	seen   []channel.OutboundRequest
}

func newScriptedHost(t *testing.T, bus *channel.LocalBus, script func(req channel.OutboundRequest) (json.RawMessage, string, bool)) *scriptedHost {
	t.Helper()
	h := &scriptedHost{bus: bus, script: script}
	cancel := bus.Subscribe(func(msg channel.Message) {
		req, ok := channel.DecodeOutbound(msg.Data)
		if !ok {
			return
		}
		h.mu.Lock()
		h.seen = append(h.seen, req)
		script := h.script
		h.mu.Unlock()
		if script == nil {
			return
		}
		value, errMsg, respond := script(req)
		if !respond {
			return
		}
		var data []byte
		var err error
		if errMsg != "" {
			data, err = channel.EncodeInboundError(req.ID, errMsg)
		} else {
			data, err = channel.EncodeInbound(req.ID, value)
		}
		require.NoError(t, err)
		bus.Publish(channel.Message{Origin: "relay", Data: data})
	})
	t.Cleanup(cancel)
	return h
}

func (h *scriptedHost) requests() []channel.OutboundRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]channel.OutboundRequest(nil), h.seen...)
}

func newTestProvider(t *testing.T, bus *channel.LocalBus, timeout time.Duration) *Provider {
	t.Helper()
	p, err := New(bus, Config{
		Origin:         "https://dapp.example",
		RequestTimeout: timeout,
		Metrics:        NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestRequestResolvesMatchingResult(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(req channel.OutboundRequest) (json.RawMessage, string, bool) {
		return json.RawMessage(`{"balance":"100"}`), "", true
	})
	p := newTestProvider(t, bus, time.Second)

	raw, err := p.Request(context.Background(), channel.MethodGetBalance, "0xabc")
	require.NoError(t, err)
	require.JSONEq(t, `{"balance":"100"}`, string(raw))
	require.Eventually(t, func() bool { return p.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRequestTimesOutWhenHostSilent(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(channel.OutboundRequest) (json.RawMessage, string, bool) {
		return nil, "", false
	})
	p := newTestProvider(t, bus, 30*time.Millisecond)

	_, err := p.Request(context.Background(), channel.MethodSignTransaction, map[string]string{"to": "0xdef"})
	require.Error(t, err)
	apiErr, ok := apierrors.FromError(err)
	require.True(t, ok)
	require.Equal(t, apierrors.CodeTimeout, apiErr.Code)
	require.Zero(t, p.PendingCount(), "correlation table must drain after timeout")
}

func TestLateResponseAfterTimeoutIsNoOp(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)

	release := make(chan struct{})
	newScriptedHost(t, bus, func(req channel.OutboundRequest) (json.RawMessage, string, bool) {
		go func() {
			<-release
			data, err := channel.EncodeInbound(req.ID, json.RawMessage(`"late"`))
			require.NoError(t, err)
			bus.Publish(channel.Message{Origin: "relay", Data: data})
		}()
		return nil, "", false
	})
	p := newTestProvider(t, bus, 20*time.Millisecond)

	_, err := p.Request(context.Background(), channel.MethodGetChainID)
	require.Error(t, err)
	require.Zero(t, p.PendingCount())

	// 超时之后才放行响应：必须被静默丢弃。
	close(release)
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, p.PendingCount())
}

func TestConcurrentRequestsEachResolveOnce(t *testing.T) {
	bus := channel.NewLocalBus(channel.WithSubscriberBuffer(256))
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(req channel.OutboundRequest) (json.RawMessage, string, bool) {
		// 回显第一个参数，响应顺序由调度随机决定。
		return req.Params[0], "", true
	})
	p := newTestProvider(t, bus, 2*time.Second)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := p.Request(context.Background(), channel.MethodGetBalance, fmt.Sprintf("payload-%d", i))
			errs[i] = err
			if err == nil {
				_ = json.Unmarshal(raw, &results[i])
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("payload-%d", i), results[i], "response must match its own request")
	}
	require.Zero(t, p.PendingCount())
}

func TestOutOfOrderResponsesMatchByID(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)

	// 主机压住第一个请求（地址查询），先答复后到的链 ID 请求。
	// 两个包装器都做严格解析：一旦串台，Enable 会拿到没有
	// address 字段的负载并失败。
	var mu sync.Mutex
	var heldAddr *channel.OutboundRequest
	gotChainID := make(chan struct{})
	newScriptedHost(t, bus, func(req channel.OutboundRequest) (json.RawMessage, string, bool) {
		switch req.Method {
		case channel.MethodGetWalletAddress:
			mu.Lock()
			reqCopy := req
			heldAddr = &reqCopy
			mu.Unlock()
			go func() {
				<-gotChainID
				mu.Lock()
				held := *heldAddr
				mu.Unlock()
				data, err := channel.EncodeInbound(held.ID, json.RawMessage(`{"address":"0xaddr"}`))
				require.NoError(t, err)
				bus.Publish(channel.Message{Origin: "relay", Data: data})
			}()
			return nil, "", false
		case channel.MethodGetChainID:
			defer close(gotChainID)
			return json.RawMessage(`{"chainId":"spira-1"}`), "", true
		default:
			return nil, "", false
		}
	})
	p := newTestProvider(t, bus, 2*time.Second)

	enableErr := make(chan error, 1)
	enableAddr := make(chan string, 1)
	go func() {
		addr, err := p.Enable(context.Background())
		enableAddr <- addr
		enableErr <- err
	}()
	require.Eventually(t, func() bool { return p.PendingCount() == 1 }, time.Second, 5*time.Millisecond)

	chainID, err := p.GetChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "spira-1", chainID)

	require.NoError(t, <-enableErr)
	require.Equal(t, "0xaddr", <-enableAddr)
	require.Zero(t, p.PendingCount())
}

func TestUnrelatedTrafficIgnored(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(req channel.OutboundRequest) (json.RawMessage, string, bool) {
		return json.RawMessage(`{"balance":"7"}`), "", true
	})
	p := newTestProvider(t, bus, time.Second)

	// 信封格式不符、缺 id、错误 tag 的消息不得产生任何可见影响。
	bus.Publish(channel.Message{Origin: "evil", Data: []byte(`garbage`)})
	bus.Publish(channel.Message{Origin: "evil", Data: []byte(`{"tag":"provider-response"}`)})
	bus.Publish(channel.Message{Origin: "evil", Data: []byte(`{"tag":"other","id":1}`)})
	bus.Publish(channel.Message{Origin: "evil", Data: []byte(`{"tag":"provider-response","id":4096,"result":"spoof"}`)})

	raw, err := p.Request(context.Background(), channel.MethodGetBalance, "0xabc")
	require.NoError(t, err)
	require.JSONEq(t, `{"balance":"7"}`, string(raw))
	require.Zero(t, p.PendingCount())
}

func TestRequestContextCancel(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(channel.OutboundRequest) (json.RawMessage, string, bool) {
		return nil, "", false
	})
	p := newTestProvider(t, bus, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Request(ctx, channel.MethodGetBalance, "0xabc")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, p.PendingCount())
}

func TestCloseRejectsInFlight(t *testing.T) {
	bus := channel.NewLocalBus()
	t.Cleanup(bus.Close)
	newScriptedHost(t, bus, func(channel.OutboundRequest) (json.RawMessage, string, bool) {
		return nil, "", false
	})
	p := newTestProvider(t, bus, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), channel.MethodGetBalance, "0xabc")
		done <- err
	}()
	require.Eventually(t, func() bool { return p.PendingCount() == 1 }, time.Second, 5*time.Millisecond)

	p.Close()
	err := <-done
	require.Error(t, err)
	require.Zero(t, p.PendingCount())
}
