package provider

import (
	"sync"
	"time"

	"github.com/spirachain/wallet-bridge/internal/channel"
)

// RequestState 表示单个在飞请求的生命周期状态。
// 终态互斥：一个请求恰好进入 RESOLVED、REJECTED、TIMED_OUT 之一。
type RequestState string

const (
	StateCreated  RequestState = "CREATED"
	StateInFlight RequestState = "IN_FLIGHT"
	StateResolved RequestState = "RESOLVED"
	StateRejected RequestState = "REJECTED"
	StateTimedOut RequestState = "TIMED_OUT"
)

// pendingEntry 是关联表中的一条在飞请求。
// 它被 take 移出表之后只属于唯一的赢家，之后的字段写入无需加锁。
type pendingEntry struct {
	id        int64
	method    string
	createdAt time.Time
	timer     *time.Timer
	done      chan channel.Outcome
	state     RequestState
}

// table 是 Provider 实例独占的关联表。
// 关联 ID 严格递增、永不复用；take 是唯一的移除路径，
// 超时与响应两个竞争写者都必须通过它完成原子的查删。
type table struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*pendingEntry
}

func newTable() *table {
	return &table{entries: make(map[int64]*pendingEntry)}
}

// register 分配下一个关联 ID 并登记 pending entry。
func (t *table) register(method string, now time.Time) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	entry := &pendingEntry{
		id:        t.nextID,
		method:    method,
		createdAt: now,
		done:      make(chan channel.Outcome, 1),
		state:     StateCreated,
	}
	t.entries[entry.id] = entry
	return entry
}

// markInFlight 在信封发出后推进状态；条目可能已被更快的写者移除。
func (t *table) markInFlight(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[id]; ok && entry.state == StateCreated {
		entry.state = StateInFlight
	}
}

// take 原子地查找并移除条目。返回 nil 表示该 ID 未知或已被
// 另一个写者取走——调用方必须按「静默丢弃」处理。
func (t *table) take(id int64) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return entry
}

// takeAll 移除全部条目，用于 Provider 关闭。
func (t *table) takeAll() []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]*pendingEntry, 0, len(t.entries))
	for id, entry := range t.entries {
		entries = append(entries, entry)
		delete(t.entries, id)
	}
	return entries
}

// size 返回在飞请求数。
func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ids 返回在飞请求 ID 快照，用于调试接口。
func (t *table) ids() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	return out
}

// finish 由赢得条目的唯一写者调用，设置终态并唤醒等待方。
func (e *pendingEntry) finish(state RequestState, outcome channel.Outcome) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = state
	e.done <- outcome
}
