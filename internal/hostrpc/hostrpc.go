package hostrpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// 转发调用的负载是无模式 JSON（params 为有序异构列表），
// 因此服务绑定手工声明并挂接 JSON codec，不走 protobuf 代码生成。
const (
	// ServiceName 供健康检查与 service config 引用。
	ServiceName = "bridge.v1.HostService"

	callFullMethod = "/bridge.v1.HostService/Call"
	codecName      = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallRequest 是中继转发给特权主机的调用。
// RequestID 携带页面侧关联 ID，仅用于审计与确认流对账，
// 主机的响应仍通过同步返回值关联。
type CallRequest struct {
	Type      string            `json:"type"`
	Params    []json.RawMessage `json:"params,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Origin    string            `json:"origin,omitempty"`
}

// CallResult 是主机对一次转发调用的唯一响应。
// Error 非空时 Result 必须为空，反之亦然。
type CallResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HostServiceServer 是特权主机需要实现的服务面。
type HostServiceServer interface {
	Call(ctx context.Context, req *CallRequest) (*CallResult, error)
}

// RegisterHostServiceServer 将实现挂到 gRPC server。
func RegisterHostServiceServer(s grpc.ServiceRegistrar, srv HostServiceServer) {
	s.RegisterService(&hostServiceDesc, srv)
}

var hostServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HostServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docs/api/bridge_wire.yaml",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HostServiceServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HostServiceServer).Call(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client 是 HostService 的调用端。
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 基于现有连接构造调用端。
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call 发起一次转发调用。
func (c *Client) Call(ctx context.Context, req *CallRequest, opts ...grpc.CallOption) (*CallResult, error) {
	out := new(CallResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, callFullMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonCodec 让 gRPC 直接携带 JSON 负载。
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }
