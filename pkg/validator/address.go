package validator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// 地址为 0x 前缀 + 32 字节公钥哈希的 hex 编码。
const addressHexLen = 64

var (
	errAddressPrefix = errors.New("address must start with 0x")
	errAddressLength = errors.New("address must encode 32 bytes")
)

// NormalizeAddress 去除空白并统一为小写 hex。
func NormalizeAddress(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return addr, nil
}

// ValidateAddress 校验地址格式。
func ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") {
		return errAddressPrefix
	}
	body := addr[2:]
	if len(body) != addressHexLen {
		return errAddressLength
	}
	if _, err := hex.DecodeString(body); err != nil {
		return fmt.Errorf("invalid hex address: %w", err)
	}
	return nil
}

// ValidateAmount 校验金额为非空十进制整数字符串。
func ValidateAmount(amount string) error {
	if amount == "" {
		return errors.New("amount is required")
	}
	for _, r := range amount {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid amount %q", amount)
		}
	}
	return nil
}
