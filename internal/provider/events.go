package provider

import (
	"reflect"
	"sync"
)

// EventCallback 是事件订阅回调。
type EventCallback func(payload any)

// eventRegistry 是按事件名组织的显式观察者注册表。
// 桥接本身不触发任何事件：哪些事件、何时触发在上游未定义，
// 这里只提供注册/注销与投递机制。
type eventRegistry struct {
	mu   sync.Mutex
	subs map[string][]EventCallback
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{subs: make(map[string][]EventCallback)}
}

// On 注册事件回调。同一回调可以重复注册，注销一次移除一个。
func (p *Provider) On(event string, cb EventCallback) {
	if event == "" || cb == nil {
		return
	}
	p.events.mu.Lock()
	defer p.events.mu.Unlock()
	p.events.subs[event] = append(p.events.subs[event], cb)
}

// RemoveListener 注销事件回调，按函数标识匹配。
func (p *Provider) RemoveListener(event string, cb EventCallback) {
	if event == "" || cb == nil {
		return
	}
	target := reflect.ValueOf(cb).Pointer()
	p.events.mu.Lock()
	defer p.events.mu.Unlock()
	callbacks := p.events.subs[event]
	for i, registered := range callbacks {
		if reflect.ValueOf(registered).Pointer() == target {
			p.events.subs[event] = append(callbacks[:i:i], callbacks[i+1:]...)
			break
		}
	}
	if len(p.events.subs[event]) == 0 {
		delete(p.events.subs, event)
	}
}

// emit 向事件的所有订阅者投递负载。
func (r *eventRegistry) emit(event string, payload any) {
	r.mu.Lock()
	callbacks := append([]EventCallback(nil), r.subs[event]...)
	r.mu.Unlock()
	for _, cb := range callbacks {
		cb(payload)
	}
}

// listenerCount 返回某事件当前的订阅数。
func (r *eventRegistry) listenerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[event])
}
