package host

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spirachain/wallet-bridge/internal/chainrpc"
	"github.com/spirachain/wallet-bridge/internal/channel"
	"github.com/spirachain/wallet-bridge/internal/hostrpc"
	"github.com/spirachain/wallet-bridge/internal/keystore"
	"github.com/spirachain/wallet-bridge/pkg/apierrors"
	"github.com/spirachain/wallet-bridge/pkg/txn"
	"github.com/spirachain/wallet-bridge/pkg/validator"
)

// NodeClient 是主机对链节点的依赖面。
type NodeClient interface {
	GetBalance(ctx context.Context, address string) (*chainrpc.BalanceResponse, error)
	GetStatus(ctx context.Context) (*chainrpc.StatusResponse, error)
	SubmitTransaction(ctx context.Context, signed *txn.Signed) (*chainrpc.SubmitResponse, error)
}

type handlerFunc func(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error)

// Host 是持有钱包能力的特权端。
// 每个转发调用恰好得到一个 CallResult：处理器返回的任何错误
// 都折叠为 {error} 结果，绝不升级为传输层失败。
type Host struct {
	cfg     Config
	store   keystore.Store
	node    NodeClient
	confirm *ConfirmManager
	metrics *Metrics
	logger  *slog.Logger

	handlers map[string]handlerFunc

	// 节点不可达时的本地 nonce 回退，进程内单调。
	nonceMu    sync.Mutex
	localNonce uint64
}

// New 构造主机并装配方法分发表。
func New(store keystore.Store, node NodeClient, cfg Config) (*Host, error) {
	if store == nil {
		return nil, errors.New("keystore is required")
	}
	if node == nil {
		return nil, errors.New("node client is required")
	}
	normalized := cfg.normalize()
	h := &Host{
		cfg:     normalized,
		store:   store,
		node:    node,
		metrics: normalized.Metrics,
		logger:  normalized.Logger,
	}
	h.confirm = NewConfirmManager(ConfirmConfig{
		Timeout: normalized.ConfirmTimeout,
		Logger:  normalized.Logger,
		Metrics: normalized.Metrics,
		OnOpen:  normalized.OnPrompt,
	})
	h.handlers = map[string]handlerFunc{
		channel.MethodGetWalletAddress:  h.handleGetWalletAddress,
		channel.MethodSignTransaction:   h.handleSignTransaction,
		channel.MethodGetBalance:        h.handleGetBalance,
		channel.MethodGetChainID:        h.handleGetChainID,
		channel.MethodGetNetworkVersion: h.handleGetNetworkVersion,
	}
	return h, nil
}

// Confirmations 暴露确认管理器给确认界面。
func (h *Host) Confirmations() *ConfirmManager {
	return h.confirm
}

// Call 实现 hostrpc.HostServiceServer。
func (h *Host) Call(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
	start := time.Now()
	handler, ok := h.handlers[req.Type]
	if !ok {
		h.metrics.observeCall(req.Type, float64(time.Since(start).Milliseconds()))
		return h.errResult(req, apierrors.UnknownMethod(req.Type)), nil
	}
	result, err := handler(ctx, req)
	h.metrics.observeCall(req.Type, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return h.errResult(req, err), nil
	}
	return &hostrpc.CallResult{Result: result}, nil
}

func (h *Host) errResult(req *hostrpc.CallRequest, err error) *hostrpc.CallResult {
	message := apierrors.WireMessage(err)
	code := string(apierrors.CodeInternal)
	if apiErr, ok := apierrors.FromError(err); ok {
		code = string(apiErr.Code)
	}
	h.metrics.incCallError(code)
	h.logger.Warn("call answered with error",
		slog.String("method", req.Type),
		slog.String("request_id", req.RequestID),
		slog.String("code", code))
	return &hostrpc.CallResult{Error: message}
}

func (h *Host) handleGetWalletAddress(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error) {
	record, err := h.store.Load()
	if err != nil {
		if errors.Is(err, keystore.ErrNoWallet) {
			return nil, apierrors.NoWallet()
		}
		return nil, err
	}
	return json.Marshal(map[string]string{"address": record.Address})
}

func (h *Host) handleGetBalance(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error) {
	address, err := h.balanceAddress(req)
	if err != nil {
		return nil, err
	}
	resp, err := h.node.GetBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{
		"address": resp.Address,
		"balance": resp.Balance,
	})
}

// balanceAddress 取首个参数作为查询地址，缺省时退回钱包地址。
func (h *Host) balanceAddress(req *hostrpc.CallRequest) (string, error) {
	if len(req.Params) > 0 {
		var raw string
		if err := json.Unmarshal(req.Params[0], &raw); err != nil {
			return "", apierrors.New(apierrors.CodeInvalidArgument, "address must be a string")
		}
		address, err := validator.NormalizeAddress(raw)
		if err != nil {
			return "", apierrors.New(apierrors.CodeInvalidArgument, err.Error())
		}
		return address, nil
	}
	record, err := h.store.Load()
	if err != nil {
		if errors.Is(err, keystore.ErrNoWallet) {
			return "", apierrors.NoWallet()
		}
		return "", err
	}
	return record.Address, nil
}

func (h *Host) handleSignTransaction(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error) {
	if len(req.Params) == 0 {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "transaction is required")
	}
	var tx txn.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "malformed transaction")
	}

	record, err := h.store.Load()
	if err != nil {
		if errors.Is(err, keystore.ErrNoWallet) {
			return nil, apierrors.NoWallet()
		}
		return nil, err
	}
	if tx.From == "" {
		tx.From = record.Address
	}
	if err := h.validateTransaction(tx, record.Address); err != nil {
		return nil, err
	}

	unsigned := txn.Unsigned{
		Transaction: tx,
		Nonce:       h.nextNonce(ctx),
		Timestamp:   time.Now().Unix(),
	}

	p := h.confirm.open(req.RequestID, req.Origin, unsigned)
	if !h.confirm.await(ctx, p) {
		return nil, apierrors.UserRejected()
	}

	digest, err := txn.Digest(unsigned)
	if err != nil {
		return nil, err
	}
	signature, err := h.store.Sign(digest[:], record)
	if err != nil {
		if errors.Is(err, keystore.ErrNoWallet) {
			return nil, apierrors.NoWallet()
		}
		return nil, err
	}
	signed := &txn.Signed{
		Unsigned:  unsigned,
		Signature: hex.EncodeToString(signature),
		TxHash:    txn.HashHex(digest),
	}

	if _, err := h.node.SubmitTransaction(ctx, signed); err != nil {
		return nil, err
	}
	h.logger.Info("transaction signed and submitted",
		slog.String("tx_hash", signed.TxHash),
		slog.String("request_id", req.RequestID))
	return json.Marshal(signed)
}

func (h *Host) validateTransaction(tx txn.Transaction, walletAddress string) error {
	if tx.From != walletAddress {
		return apierrors.New(apierrors.CodeInvalidArgument, "from address does not match wallet")
	}
	if err := validator.ValidateAddress(tx.To); err != nil {
		return apierrors.New(apierrors.CodeInvalidArgument, "to: "+err.Error())
	}
	if err := validator.ValidateAmount(tx.Amount); err != nil {
		return apierrors.New(apierrors.CodeInvalidArgument, err.Error())
	}
	if tx.Fee != "" {
		if err := validator.ValidateAmount(tx.Fee); err != nil {
			return apierrors.New(apierrors.CodeInvalidArgument, "fee: "+err.Error())
		}
	}
	return nil
}

// 链标识与协议版本来自主机配置；节点状态不携带这两项。
func (h *Host) handleGetChainID(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"chainId": h.cfg.ChainID})
}

func (h *Host) handleGetNetworkVersion(ctx context.Context, req *hostrpc.CallRequest) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"networkVersion": h.cfg.NetworkVersion})
}

// nextNonce 优先取节点链高度，节点不可达时退回进程内单调计数。
func (h *Host) nextNonce(ctx context.Context) uint64 {
	if status, err := h.node.GetStatus(ctx); err == nil {
		return status.ChainHeight + 1
	}
	h.nonceMu.Lock()
	defer h.nonceMu.Unlock()
	h.localNonce++
	return h.localNonce
}
