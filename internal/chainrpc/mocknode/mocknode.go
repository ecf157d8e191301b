package mocknode

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/spirachain/wallet-bridge/pkg/txn"
)

// Node 是内存里的链节点桩，用于演练/单测。
// 实现与真实节点相同的 HTTP 面：/balance/{address}、
// /submit_transaction、/status。
type Node struct {
	mu          sync.Mutex
	balances    map[string]uint64
	submitted   []txn.Signed
	chainHeight uint64
	peers       int
	failNext    int
}

// New 构造节点桩。
func New() *Node {
	return &Node{
		balances: make(map[string]uint64),
		peers:    1,
	}
}

// SetBalance 预置地址余额。
func (n *Node) SetBalance(address string, balance uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[address] = balance
}

// SetChainHeight 预置链高度。
func (n *Node) SetChainHeight(height uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chainHeight = height
}

// FailNext 让接下来的 count 个请求返回 500，用于演练重试路径。
func (n *Node) FailNext(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = count
}

// Submitted 返回已受理的交易副本。
func (n *Node) Submitted() []txn.Signed {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]txn.Signed(nil), n.submitted...)
}

// ServeHTTP 实现 http.Handler。
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	if n.failNext > 0 {
		n.failNext--
		n.mu.Unlock()
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}
	n.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/balance/"):
		n.handleBalance(w, strings.TrimPrefix(r.URL.Path, "/balance/"))
	case r.Method == http.MethodPost && r.URL.Path == "/submit_transaction":
		n.handleSubmit(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/status":
		n.handleStatus(w)
	default:
		http.NotFound(w, r)
	}
}

// handleBalance 按真实节点的线上形态把余额编码为十进制字符串。
func (n *Node) handleBalance(w http.ResponseWriter, address string) {
	n.mu.Lock()
	balance := n.balances[address]
	n.mu.Unlock()
	writeJSON(w, map[string]any{
		"address": address,
		"balance": strconv.FormatUint(balance, 10),
	})
}

func (n *Node) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxHex string `json:"tx_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TxHex == "" {
		writeJSON(w, map[string]any{"success": false, "tx_hash": "", "message": "malformed submit body"})
		return
	}
	raw, err := hex.DecodeString(body.TxHex)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "tx_hash": "", "message": "tx_hex is not hex"})
		return
	}
	var signed txn.Signed
	if err := json.Unmarshal(raw, &signed); err != nil || signed.Signature == "" {
		writeJSON(w, map[string]any{"success": false, "tx_hash": "", "message": "tx is not a signed transaction"})
		return
	}

	n.mu.Lock()
	duplicate := false
	for _, seen := range n.submitted {
		if seen.TxHash == signed.TxHash {
			duplicate = true
			break
		}
	}
	if !duplicate {
		n.submitted = append(n.submitted, signed)
		n.chainHeight++
	}
	n.mu.Unlock()

	writeJSON(w, map[string]any{"success": true, "tx_hash": signed.TxHash, "message": "accepted"})
}

func (n *Node) handleStatus(w http.ResponseWriter) {
	n.mu.Lock()
	status := map[string]any{
		"chain_height":    n.chainHeight,
		"mempool_size":    0,
		"connected_peers": n.peers,
		"is_validator":    false,
		"is_syncing":      false,
	}
	n.mu.Unlock()
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
