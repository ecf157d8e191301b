package apierrors

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
)

// Code 表示桥接层统一业务错误码。
type Code string

const (
	CodeTimeout         Code = "TIMEOUT"
	CodeUnknownMethod   Code = "UNKNOWN_METHOD"
	CodeNoWallet        Code = "NO_WALLET"
	CodeUserRejected    Code = "USER_REJECTED"
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// 共享通道上只传递 error 字符串，因此每个错误码有一个规范化报文。
// 页面侧通过 FromWireMessage 还原错误码。
const (
	msgTimeout       = "request timed out"
	msgNoWallet      = "No wallet found"
	msgUserRejected  = "User rejected the request"
	msgUnknownPrefix = "Unknown method: "
)

var httpStatusMap = map[Code]int{
	CodeInvalidArgument: 400,
	CodeNoWallet:        404,
	CodeUnknownMethod:   404,
	CodeUserRejected:    403,
	CodeTimeout:         504,
	CodeNetworkError:    502,
}

var grpcStatusMap = map[Code]codes.Code{
	CodeInvalidArgument: codes.InvalidArgument,
	CodeNoWallet:        codes.FailedPrecondition,
	CodeUnknownMethod:   codes.Unimplemented,
	CodeUserRejected:    codes.PermissionDenied,
	CodeTimeout:         codes.DeadlineExceeded,
	CodeNetworkError:    codes.Unavailable,
}

// Error 表示带统一错误码的业务错误。
type Error struct {
	Code    Code
	Message string
}

// New 创建一个新的业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Timeout 返回规范化的超时错误。
func Timeout() *Error {
	return New(CodeTimeout, msgTimeout)
}

// NoWallet 返回规范化的「无钱包」错误。
func NoWallet() *Error {
	return New(CodeNoWallet, msgNoWallet)
}

// UserRejected 返回规范化的「用户拒绝」错误。
func UserRejected() *Error {
	return New(CodeUserRejected, msgUserRejected)
}

// UnknownMethod 返回包含方法名的未知方法错误。
func UnknownMethod(method string) *Error {
	return New(CodeUnknownMethod, msgUnknownPrefix+method)
}

// NetworkError 将底层传输失败包装为网络错误，保留原始描述。
func NetworkError(cause error) *Error {
	if cause == nil {
		return New(CodeNetworkError, "network error")
	}
	return New(CodeNetworkError, "network error: "+cause.Error())
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// FromError 尝试从通用 error 中解析业务错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// WireMessage 返回跨通道传输的 error 字符串。
func WireMessage(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := FromError(err); ok {
		return apiErr.Error()
	}
	return err.Error()
}

// FromWireMessage 将入站 error 字符串还原为业务错误。
// 无法识别的报文保留原文并归类为 INTERNAL_ERROR。
func FromWireMessage(message string) *Error {
	switch {
	case message == msgTimeout:
		return New(CodeTimeout, message)
	case message == msgNoWallet:
		return New(CodeNoWallet, message)
	case message == msgUserRejected:
		return New(CodeUserRejected, message)
	case strings.HasPrefix(message, msgUnknownPrefix):
		return New(CodeUnknownMethod, message)
	case strings.HasPrefix(message, "network error"):
		return New(CodeNetworkError, message)
	default:
		return New(CodeInternal, message)
	}
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Internal。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Internal
}
