package provider

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugHandler 返回 /debug/provider 所需的 handler。
func (p *Provider) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := p.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

// DebugSnapshot 描述关联表当前状态。
type DebugSnapshot struct {
	Pending   int       `json:"pending"`
	IDs       []int64   `json:"ids"`
	Connected bool      `json:"connected"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot 生成调试快照。
func (p *Provider) Snapshot() DebugSnapshot {
	return DebugSnapshot{
		Pending:   p.table.size(),
		IDs:       p.table.ids(),
		Connected: p.Connected(),
		Address:   p.Address(),
		Timestamp: time.Now(),
	}
}
