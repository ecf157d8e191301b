package channel

import (
	"sync"
	"sync/atomic"
)

// Message 是共享通道上的一条原始消息。
// Data 是不可信字节；Origin 是发布方声明的表观来源。
type Message struct {
	Origin string
	Data   []byte
}

// Bus 抽象页面上下文与中继共享的广播通道。
// 通道是对抗性的：任何订阅方都可能收到无关或恶意构造的消息。
type Bus interface {
	Publish(msg Message)
	Subscribe(fn func(Message)) (cancel func())
}

const defaultSubscriberBuffer = 64

// LocalBus 是进程内广播实现，对应页面与中继同驻一个宿主的场景。
// 每个订阅者有独立的有界队列，慢订阅者只会丢自己的消息。
type LocalBus struct {
	buffer int

	mu      sync.Mutex
	nextSub int
	subs    map[int]*subscriber
	closed  bool

	dropped atomic.Uint64
}

type subscriber struct {
	ch   chan Message
	done chan struct{}
}

// LocalBusOption 自定义 LocalBus 行为。
type LocalBusOption func(*LocalBus)

// WithSubscriberBuffer 调整每个订阅者的队列深度。
func WithSubscriberBuffer(n int) LocalBusOption {
	return func(b *LocalBus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewLocalBus 构造进程内共享通道。
func NewLocalBus(opts ...LocalBusOption) *LocalBus {
	b := &LocalBus{
		buffer: defaultSubscriberBuffer,
		subs:   make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish 向所有订阅者广播。队列已满的订阅者直接丢弃该消息。
func (b *LocalBus) Publish(msg Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe 注册回调，返回的 cancel 幂等。
// 回调在订阅者自己的 goroutine 中按发布顺序串行执行。
func (b *LocalBus) Subscribe(fn func(Message)) func() {
	sub := &subscriber{
		ch:   make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.pump(fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Close 停止所有订阅者。
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[int]*subscriber{}
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.done)
	}
}

// Dropped 返回因订阅者队列满而被丢弃的消息数。
func (b *LocalBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (s *subscriber) pump(fn func(Message)) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			fn(msg)
		}
	}
}
