package services

import (
	"context"
	"sync"
	"time"

	"github.com/aihub/retrieval-go/internal/errors"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker 熔断器
//
// 半开状态只放行一个探测请求，探测期间到达的请求直接得到熔断错误。
// 所有状态与计数变更都在同一把锁内完成，并发调用不会绕过阈值判定。
type CircuitBreaker struct {
	name string

	// 配置
	failureThreshold int           // 失败阈值
	successThreshold int           // 成功阈值（半开状态）
	recoveryTimeout  time.Duration // 熔断恢复时间

	// 状态
	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	probeInFlight   bool
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold int, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = time.Minute
	}

	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// Call 执行函数调用（带熔断保护）
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Translate(err)
	}

	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.record(callErr == nil, probe)
	return callErr
}

// acquire 判定当前请求能否执行
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.recoveryTimeout {
			return false, errors.NewCircuitOpenError(cb.name)
		}
		// 恢复时间已到，转入半开并放行本请求作为探测
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, errors.NewCircuitOpenError(cb.name)
		}
		cb.probeInFlight = true
		return true, nil
	default:
		return false, errors.NewCircuitOpenError(cb.name)
	}
}

// record 记录执行结果
func (cb *CircuitBreaker) record(success bool, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	if success {
		switch cb.state {
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				// 达到成功阈值，关闭熔断器
				cb.state = StateClosed
				cb.failureCount = 0
				cb.successCount = 0
			}
		case StateClosed:
			// 关闭状态下，重置失败计数
			cb.failureCount = 0
		}
		return
	}

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateHalfOpen:
		// 半开状态下失败，直接打开熔断器
		cb.state = StateOpen
		cb.successCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			// 达到失败阈值，打开熔断器
			cb.state = StateOpen
		}
	}
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats 获取统计信息
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"failure_threshold": cb.failureThreshold,
		"success_threshold": cb.successThreshold,
		"recovery_timeout":  cb.recoveryTimeout.String(),
		"last_failure_time": cb.lastFailureTime,
	}
}

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
