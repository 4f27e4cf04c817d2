package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

var _ net.Error = (*fakeNetError)(nil)

func TestTranslateNil(t *testing.T) {
	assert.Nil(t, Translate(nil))
}

func TestTranslateAppErrorPassthrough(t *testing.T) {
	appErr := NewCircuitOpenError("embedding_upstream")
	assert.Same(t, appErr, Translate(appErr))

	// 包装链中的AppError同样透传
	wrapped := fmt.Errorf("调用失败: %w", appErr)
	assert.Same(t, appErr, Translate(wrapped))
}

func TestTranslateContextErrors(t *testing.T) {
	// 截止时间只来自ctx，取消与超时统一归为TIMEOUT
	got := Translate(context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTimeout, got.Code)

	got = Translate(context.Canceled)
	assert.Equal(t, ErrCodeTimeout, got.Code)

	got = Translate(fmt.Errorf("请求失败: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrCodeTimeout, got.Code)
}

func TestTranslateNetErrors(t *testing.T) {
	got := Translate(&fakeNetError{timeout: true})
	assert.Equal(t, ErrCodeTimeout, got.Code)

	got = Translate(&fakeNetError{timeout: false})
	assert.Equal(t, ErrCodeConnectionFailed, got.Code)
}

func TestTranslateConnectionRefused(t *testing.T) {
	got := Translate(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	assert.Equal(t, ErrCodeConnectionFailed, got.Code)

	got = Translate(errors.New("lookup db.internal: no such host"))
	assert.Equal(t, ErrCodeConnectionFailed, got.Code)
}

func TestTranslateValidationErrors(t *testing.T) {
	type payload struct {
		Query string `validate:"required"`
	}
	err := validator.New().Struct(payload{})
	require.Error(t, err)

	got := Translate(err)
	assert.Equal(t, ErrCodeInvalidInput, got.Code)

	details, ok := got.Details.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, details["errors"])
}

func TestTranslateUnknownError(t *testing.T) {
	cause := errors.New("something odd")
	got := Translate(cause)

	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, cause, got.Cause)
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{429, ErrCodeUpstreamUnavailable},
		{500, ErrCodeUpstreamUnavailable},
		{502, ErrCodeUpstreamUnavailable},
		{503, ErrCodeUpstreamUnavailable},
		{400, ErrCodeUpstreamRejected},
		{401, ErrCodeUpstreamRejected},
		{404, ErrCodeUpstreamRejected},
		{422, ErrCodeUpstreamRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			got := ClassifyHTTPStatus("create_embeddings", tt.status)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.code == ErrCodeUpstreamUnavailable, IsRetryable(got))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "m"))

	cause := errors.New("序列化失败")
	got := Wrap(cause, ErrCodeInternal, "写入向量失败")
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, cause, got.Cause)
	assert.Contains(t, got.Error(), "写入向量失败")
}
