package errors

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Translate 将任意错误归类为AppError。已是AppError的错误原样返回，
// 归类结果沿错误链保留原始Cause。
func Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，直接返回
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	// context取消与超时：统一归类为超时（唯一的截止时间来源是ctx）
	if errors.Is(err, context.DeadlineExceeded) {
		return NewSystemError(ErrCodeTimeout, "operation deadline exceeded").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return NewSystemError(ErrCodeTimeout, "operation canceled by caller").WithCause(err)
	}

	// 验证错误
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return translateValidationErrors(validationErrors)
	}

	// 网络错误
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewSystemError(ErrCodeTimeout, "network operation timed out").WithCause(err)
		}
		return NewSystemError(ErrCodeConnectionFailed, "network error").WithCause(err)
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") {
		return NewSystemError(ErrCodeConnectionFailed, "connection failed").WithCause(err)
	}

	// 默认系统错误
	return NewSystemError(ErrCodeInternal, "internal error").WithCause(err)
}

// ClassifyHTTPStatus 根据上游HTTP状态码归类错误。
// 429与5xx可重试，其余4xx为上游拒绝，不可重试。
func ClassifyHTTPStatus(operation string, status int) *AppError {
	switch {
	case status == 429 || status >= 500:
		return NewUpstreamUnavailableError(operation).
			WithDetails(map[string]interface{}{"status": status})
	default:
		return NewUpstreamRejectedError(operation, status)
	}
}

// translateValidationErrors 转换验证错误
func translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	var details []map[string]interface{}

	for _, fieldError := range validationErrors {
		detail := map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": getValidationErrorMessage(fieldError),
		}
		details = append(details, detail)
	}

	return NewValidationError("validation failed").
		WithDetails(map[string]interface{}{"errors": details})
}

// getValidationErrorMessage 获取验证错误消息
func getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	tag := fieldError.Tag()

	switch tag {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	case "gte":
		return field + " must be greater than or equal to " + fieldError.Param()
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	case "gt":
		return field + " must be greater than " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	case "url":
		return field + " must be a valid URL"
	default:
		return field + " is invalid"
	}
}

// Wrap 包装错误为AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return NewSystemError(code, message).WithCause(err)
}
