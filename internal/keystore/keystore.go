package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// ErrNoWallet 表示宿主机上尚未初始化钱包。
var ErrNoWallet = errors.New("no wallet found")

// ErrWalletExists 表示目标位置已存在钱包文件，拒绝覆盖。
var ErrWalletExists = errors.New("wallet already exists")

// WalletRecord 是已加载进内存的钱包。
// 私钥只在特权主机进程内存在，绝不进入共享通道。
type WalletRecord struct {
	Address   string
	PublicKey ed25519.PublicKey
	secretKey ed25519.PrivateKey
}

// Store 是主机依赖的钱包契约：签名是不透明能力，
// 调用方拿不到私钥本体。
type Store interface {
	// HasWallet 报告钱包是否已初始化。
	HasWallet() bool
	// Load 读取钱包，未初始化时返回 ErrNoWallet。
	Load() (*WalletRecord, error)
	// Sign 对 32 字节摘要签名。
	Sign(digest []byte, record *WalletRecord) ([]byte, error)
}

// DeriveAddress 从公钥推导地址：0x + hex(blake2b-256(pubkey))。
func DeriveAddress(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:])
}
