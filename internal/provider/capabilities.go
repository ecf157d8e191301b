package provider

import (
	"context"
	"encoding/json"

	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
	"github.com/spirachain/wallet-bridge/pkg/txn"
)

// 能力包装器只负责整形输入输出，不引入新的关联语义。

// Enable 查询钱包地址、缓存并标记已连接。
func (p *Provider) Enable(ctx context.Context) (string, error) {
	v, err, _ := p.flight.Do("enable", func() (interface{}, error) {
		raw, err := p.Request(ctx, channel.MethodGetWalletAddress)
		if err != nil {
			return nil, err
		}
		var res struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &res); err != nil || res.Address == "" {
			return nil, apierrors.New(apierrors.CodeInternal, "malformed address result")
		}
		return res.Address, nil
	})
	if err != nil {
		return "", err
	}
	address := v.(string)
	p.accountMu.Lock()
	p.address = address
	p.connected = true
	p.accountMu.Unlock()
	return address, nil
}

// GetAccounts 返回缓存的地址，缺失时先执行 Enable。
func (p *Provider) GetAccounts(ctx context.Context) ([]string, error) {
	if address := p.Address(); address != "" {
		return []string{address}, nil
	}
	address, err := p.Enable(ctx)
	if err != nil {
		return nil, err
	}
	return []string{address}, nil
}

// GetBalance 查询余额；address 为空时使用当前账户。
func (p *Provider) GetBalance(ctx context.Context, address string) (string, error) {
	if address == "" {
		accounts, err := p.GetAccounts(ctx)
		if err != nil {
			return "", err
		}
		address = accounts[0]
	}
	raw, err := p.Request(ctx, channel.MethodGetBalance, address)
	if err != nil {
		return "", err
	}
	var res struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", apierrors.New(apierrors.CodeInternal, "malformed balance result")
	}
	return res.Balance, nil
}

// SendTransaction 请求签名并提交交易，返回签名后的交易记录。
func (p *Provider) SendTransaction(ctx context.Context, tx txn.Transaction) (*txn.Signed, error) {
	raw, err := p.Request(ctx, channel.MethodSignTransaction, tx)
	if err != nil {
		return nil, err
	}
	var signed txn.Signed
	if err := json.Unmarshal(raw, &signed); err != nil {
		return nil, apierrors.New(apierrors.CodeInternal, "malformed signed transaction")
	}
	return &signed, nil
}

// GetChainID 返回主机配置的链标识。
func (p *Provider) GetChainID(ctx context.Context) (string, error) {
	raw, err := p.Request(ctx, channel.MethodGetChainID)
	if err != nil {
		return "", err
	}
	var res struct {
		ChainID string `json:"chainId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", apierrors.New(apierrors.CodeInternal, "malformed chain id result")
	}
	return res.ChainID, nil
}

// GetNetworkVersion 返回主机上报的网络版本。
func (p *Provider) GetNetworkVersion(ctx context.Context) (string, error) {
	raw, err := p.Request(ctx, channel.MethodGetNetworkVersion)
	if err != nil {
		return "", err
	}
	var res struct {
		NetworkVersion string `json:"networkVersion"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", apierrors.New(apierrors.CodeInternal, "malformed network version result")
	}
	return res.NetworkVersion, nil
}

// Address 返回缓存的账户地址，未连接时为空。
func (p *Provider) Address() string {
	p.accountMu.Lock()
	defer p.accountMu.Unlock()
	return p.address
}

// Connected 返回 Enable 是否已成功过。
func (p *Provider) Connected() bool {
	p.accountMu.Lock()
	defer p.accountMu.Unlock()
	return p.connected
}
