package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/retrieval-go/internal/errors"
)

func TestCircuitBreakerInitialState(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1, time.Minute)

	assert.Equal(t, StateClosed, cb.GetState())

	err := cb.Call(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1, time.Minute)
	upstreamErr := errors.NewUpstreamUnavailableError("create_embeddings")

	// 连续失败5次后熔断打开
	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func() error { return upstreamErr })
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeUpstreamUnavailable))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// 第6次调用不再触达上游，直接得到熔断错误
	var invoked int32
	err := cb.Call(context.Background(), func() error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))
}

func TestCircuitBreakerNonRetryableFailureCounts(t *testing.T) {
	// 不可重试的上游拒绝同样计入失败
	cb := NewCircuitBreaker("test", 2, 1, time.Minute)
	rejectErr := errors.NewUpstreamRejectedError("create_embeddings", 400)

	_ = cb.Call(context.Background(), func() error { return rejectErr })
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Call(context.Background(), func() error { return rejectErr })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1, time.Minute)
	upstreamErr := errors.NewUpstreamUnavailableError("create_embeddings")

	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	require.Equal(t, StateClosed, cb.GetState())

	// 成功后失败计数清零，再失败两次不会打开
	err := cb.Call(context.Background(), func() error { return nil })
	require.NoError(t, err)

	stats := cb.GetStats()
	assert.Equal(t, 0, stats["failure_count"])

	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerRecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1, 30*time.Millisecond)
	upstreamErr := errors.NewUpstreamUnavailableError("create_embeddings")

	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	require.Equal(t, StateOpen, cb.GetState())

	// 恢复窗口内仍然熔断
	err := cb.Call(context.Background(), func() error { return nil })
	assert.True(t, errors.IsCircuitOpen(err))

	time.Sleep(50 * time.Millisecond)

	// 恢复窗口过后放行探测，探测成功即闭合
	err = cb.Call(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1, 20*time.Millisecond)
	upstreamErr := errors.NewUpstreamUnavailableError("create_embeddings")

	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(40 * time.Millisecond)

	// 探测失败立刻回到打开状态
	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	assert.Equal(t, StateOpen, cb.GetState())

	// 新的恢复窗口从探测失败时刻起算
	err := cb.Call(context.Background(), func() error { return nil })
	assert.True(t, errors.IsCircuitOpen(err))
}

func TestCircuitBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1, 20*time.Millisecond)
	upstreamErr := errors.NewUpstreamUnavailableError("create_embeddings")

	_ = cb.Call(context.Background(), func() error { return upstreamErr })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(40 * time.Millisecond)

	// 半开窗口内并发打入10个请求，只有一个探测触达上游
	var invoked int32
	var rejected int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(context.Background(), func() error {
				atomic.AddInt32(&invoked, 1)
				<-release
				return nil
			})
			if errors.IsCircuitOpen(err) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}

	// 等探测进入上游且其余请求全部被拒后再放行
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&invoked) == 1 && atomic.LoadInt32(&rejected) == 9
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&invoked))
	assert.Equal(t, int32(9), atomic.LoadInt32(&rejected))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerCanceledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var invoked int32
	err := cb.Call(ctx, func() error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))

	// 调用方取消不计入熔断失败
	stats := cb.GetStats()
	assert.Equal(t, 0, stats["failure_count"])
}

func TestCircuitBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
