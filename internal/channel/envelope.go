package channel

import (
	"encoding/json"
)

// 共享通道上的报文通过 tag 字段区分方向。
const (
	// TagOutbound 页面 → 中继的请求信封。
	TagOutbound = "provider-request"
	// TagInbound 中继 → 页面的响应信封。
	TagInbound = "provider-response"
)

// OutboundRequest 表示页面侧发出的请求信封。
type OutboundRequest struct {
	ID     int64
	Method string
	Params []json.RawMessage
}

// Outcome 表示一次请求的终局：成功值或错误报文，二选一。
type Outcome struct {
	Value json.RawMessage
	Err   string
}

// IsErr 返回该终局是否为错误。
func (o Outcome) IsErr() bool { return o.Err != "" }

// InboundResponse 表示中继侧发回的响应信封。
type InboundResponse struct {
	ID      int64
	Outcome Outcome
}

// 线上形态。id 使用指针以便区分「缺失」与零值。
type outboundWire struct {
	Tag    string            `json:"tag"`
	ID     *int64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type inboundWire struct {
	Tag    string          `json:"tag"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
}

type wireError struct {
	Error *string `json:"error"`
}

// EncodeOutbound 序列化请求信封。
func EncodeOutbound(req OutboundRequest) ([]byte, error) {
	id := req.ID
	params := req.Params
	if params == nil {
		params = []json.RawMessage{}
	}
	return json.Marshal(outboundWire{Tag: TagOutbound, ID: &id, Method: req.Method, Params: params})
}

// EncodeInbound 序列化成功响应信封。
func EncodeInbound(id int64, value json.RawMessage) ([]byte, error) {
	if value == nil {
		value = json.RawMessage("null")
	}
	return json.Marshal(inboundWire{Tag: TagInbound, ID: &id, Result: value})
}

// EncodeInboundError 序列化错误响应信封。
func EncodeInboundError(id int64, message string) ([]byte, error) {
	result, err := json.Marshal(wireError{Error: &message})
	if err != nil {
		return nil, err
	}
	return json.Marshal(inboundWire{Tag: TagInbound, ID: &id, Result: result})
}

// DecodeOutbound 在通道边界解析请求信封。
// 任何不匹配（非 JSON、tag 不符、缺 id、缺 method）都返回 ok=false，
// 绝不向上抛错：共享通道上允许出现无关流量。
func DecodeOutbound(data []byte) (OutboundRequest, bool) {
	var wire outboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return OutboundRequest{}, false
	}
	if wire.Tag != TagOutbound || wire.ID == nil || wire.Method == "" {
		return OutboundRequest{}, false
	}
	return OutboundRequest{ID: *wire.ID, Method: wire.Method, Params: wire.Params}, true
}

// DecodeInbound 在通道边界解析响应信封，约定同 DecodeOutbound。
func DecodeInbound(data []byte) (InboundResponse, bool) {
	var wire inboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return InboundResponse{}, false
	}
	if wire.Tag != TagInbound || wire.ID == nil {
		return InboundResponse{}, false
	}
	resp := InboundResponse{ID: *wire.ID}
	var we wireError
	if len(wire.Result) > 0 && json.Unmarshal(wire.Result, &we) == nil && we.Error != nil {
		resp.Outcome = Outcome{Err: *we.Error}
		return resp, true
	}
	resp.Outcome = Outcome{Value: wire.Result}
	return resp, true
}
