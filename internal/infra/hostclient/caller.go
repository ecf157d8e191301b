package hostclient

import (
	"context"

	"github.com/spirachain/wallet-bridge/internal/hostrpc"
)

// PoolCaller 把连接池适配成中继需要的调用面：
// 每次调用借出一条连接，结束后按调用结果归还或标记重建。
type PoolCaller struct {
	pool   *Pool
	hostID string
}

// NewPoolCaller 构造指向 hostID 的调用器。
func NewPoolCaller(pool *Pool, hostID string) *PoolCaller {
	return &PoolCaller{pool: pool, hostID: hostID}
}

// Call 转发一次调用。传输层失败会把借出的连接标记为不健康。
func (c *PoolCaller) Call(ctx context.Context, req *hostrpc.CallRequest) (*hostrpc.CallResult, error) {
	lease, err := c.pool.Acquire(ctx, c.hostID)
	if err != nil {
		return nil, err
	}
	result, err := lease.Client().Call(ctx, req)
	lease.Release(err)
	return result, err
}
