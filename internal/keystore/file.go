package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bip39 "github.com/tyler-smith/go-bip39"
)

const walletFileMode = 0o600

// walletFile 是落盘格式，三个字段均为 hex 编码。
type walletFile struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	SecretKey string `json:"secret_key"`
}

// FileStore 把钱包保存为单个 JSON 文件。
type FileStore struct {
	path string
}

// NewFileStore 构造指向 path 的钱包存储。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path 返回钱包文件路径。
func (s *FileStore) Path() string { return s.path }

// HasWallet 报告钱包文件是否存在。
func (s *FileStore) HasWallet() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load 读取并校验钱包文件。
func (s *FileStore) Load() (*WalletRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoWallet
		}
		return nil, fmt.Errorf("read wallet file: %w", err)
	}
	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse wallet file: %w", err)
	}
	pub, err := hex.DecodeString(wf.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("wallet file: invalid public key")
	}
	sec, err := hex.DecodeString(wf.SecretKey)
	if err != nil || len(sec) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet file: invalid secret key")
	}
	record := &WalletRecord{
		Address:   wf.Address,
		PublicKey: ed25519.PublicKey(pub),
		secretKey: ed25519.PrivateKey(sec),
	}
	if derived := DeriveAddress(record.PublicKey); derived != wf.Address {
		return nil, fmt.Errorf("wallet file: address does not match public key")
	}
	return record, nil
}

// Sign 用钱包私钥对摘要签名。
func (s *FileStore) Sign(digest []byte, record *WalletRecord) ([]byte, error) {
	if record == nil || len(record.secretKey) != ed25519.PrivateKeySize {
		return nil, ErrNoWallet
	}
	return ed25519.Sign(record.secretKey, digest), nil
}

// CreateResult 是钱包初始化的产物。助记词只在此处出现一次，
// 不落盘。
type CreateResult struct {
	Address  string
	Mnemonic string
}

// Create 生成新钱包并写入文件。已存在钱包时拒绝覆盖。
// 密钥从 BIP-39 助记词派生的种子推导，助记词随结果返回供一次性展示。
func (s *FileStore) Create() (*CreateResult, error) {
	if s.HasWallet() {
		return nil, ErrWalletExists
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("derive mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	secret := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := secret.Public().(ed25519.PublicKey)
	address := DeriveAddress(pub)

	wf := walletFile{
		Address:   address,
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(secret),
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode wallet file: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create wallet dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, walletFileMode); err != nil {
		return nil, fmt.Errorf("write wallet file: %w", err)
	}
	return &CreateResult{Address: address, Mnemonic: mnemonic}, nil
}
