package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// 验证错误
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// 检索链路错误
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"
	ErrCodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	ErrCodeInvalidResponse     ErrorCode = "INVALID_RESPONSE"

	// 存储错误
	ErrCodeDatabaseError    ErrorCode = "DATABASE_ERROR"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	Type          ErrorType   `json:"type"`
	HTTPCode      int         `json:"-"`
	Details       interface{} `json:"details,omitempty"`
	Cause         error       `json:"-"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithCorrelationID 添加关联ID
func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("invalid input for field '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(operation string, timeout time.Duration) *AppError {
	return &AppError{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("%s timed out after %s", operation, timeout),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusGatewayTimeout,
	}
}

// NewUpstreamUnavailableError 创建上游不可用错误
func NewUpstreamUnavailableError(operation string) *AppError {
	return &AppError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("%s upstream unavailable", operation),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
	}
}

// NewUpstreamRejectedError 创建上游拒绝错误（4xx类，不可重试）
func NewUpstreamRejectedError(operation string, status int) *AppError {
	return &AppError{
		Code:     ErrCodeUpstreamRejected,
		Message:  fmt.Sprintf("%s rejected by upstream with status %d", operation, status),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
	}
}

// NewCircuitOpenError 创建熔断器打开错误
func NewCircuitOpenError(name string) *AppError {
	return &AppError{
		Code:     ErrCodeCircuitOpen,
		Message:  fmt.Sprintf("circuit breaker '%s' is open", name),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
	}
}

// NewInvalidResponseError 创建响应无效错误
func NewInvalidResponseError(reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidResponse,
		Message:  fmt.Sprintf("invalid upstream response: %s", reason),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
	}
}

// NewDatabaseError 创建数据库错误
func NewDatabaseError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeDatabaseError,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// IsAppError 检查是否为AppError（支持包装链）
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 从错误链中提取AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	return NewSystemError(ErrCodeInternal, "internal error").WithCause(err)
}

// CodeOf 返回错误链中的错误码，无AppError时返回空串
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCode 检查错误链是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsInvalidInput 检查是否为输入无效错误
func IsInvalidInput(err error) bool {
	return IsCode(err, ErrCodeInvalidInput)
}

// IsTimeout 检查是否为超时错误
func IsTimeout(err error) bool {
	return IsCode(err, ErrCodeTimeout)
}

// IsCircuitOpen 检查是否为熔断器打开错误
func IsCircuitOpen(err error) bool {
	return IsCode(err, ErrCodeCircuitOpen)
}

// IsUpstreamUnavailable 检查是否为上游不可用错误
func IsUpstreamUnavailable(err error) bool {
	return IsCode(err, ErrCodeUpstreamUnavailable)
}

// IsInvalidResponse 检查是否为响应无效错误
func IsInvalidResponse(err error) bool {
	return IsCode(err, ErrCodeInvalidResponse)
}

// IsRetryable 检查错误是否可重试。超时与上游不可用类错误可在
// 重试预算内重试，其余错误一律立即失败。
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTimeout, ErrCodeUpstreamUnavailable, ErrCodeConnectionFailed:
		return true
	default:
		return false
	}
}
