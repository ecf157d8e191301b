package txn

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Transaction 是页面侧提交的转账请求，字段对齐链上交易的用户可控部分。
type Transaction struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Fee     string `json:"fee,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// Unsigned 是主机在签名前补全 nonce 与时间戳后的交易记录。
type Unsigned struct {
	Transaction
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// Signed 是签名并计算哈希后的交易。
type Signed struct {
	Unsigned
	Signature string `json:"signature"`
	TxHash    string `json:"txHash"`
}

// Digest 计算未签名交易的 32 字节摘要。
// 摘要基于规范化 JSON 序列化，两端可独立复算。
func Digest(u Unsigned) ([32]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal unsigned tx: %w", err)
	}
	return blake2b.Sum256(data), nil
}

// HashHex 返回 0x 前缀的摘要 hex 表示，用作交易哈希。
func HashHex(digest [32]byte) string {
	return "0x" + hex.EncodeToString(digest[:])
}
