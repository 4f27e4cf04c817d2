package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
)

// EmbeddingService 查询向量化服务
//
// 并发闸门、熔断器、重试与超时都在这里收口。每次调用只设置一个context
// 截止时间，闸门排队与重试退避消耗同一份时间预算，不存在第二套超时机制。
// 重试沿用同一个correlation id，生命周期记录按调用计一次而不是按尝试计。
type EmbeddingService struct {
	embedder knowledge.Embedder
	cache    *EmbeddingCache
	breaker  *CircuitBreaker
	recorder *OperationRecorder
	gate     *semaphore.Weighted

	model          string
	timeout        time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewEmbeddingService 创建查询向量化服务
func NewEmbeddingService(
	embedder knowledge.Embedder,
	cache *EmbeddingCache,
	breaker *CircuitBreaker,
	recorder *OperationRecorder,
	cfg *config.Config,
) *EmbeddingService {
	maxConcurrent := cfg.Embedding.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	timeout := cfg.Embedding.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	retryBaseDelay := cfg.Embedding.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = 500 * time.Millisecond
	}

	return &EmbeddingService{
		embedder:       embedder,
		cache:          cache,
		breaker:        breaker,
		recorder:       recorder,
		gate:           semaphore.NewWeighted(int64(maxConcurrent)),
		model:          cfg.Embedding.Model,
		timeout:        timeout,
		maxRetries:     cfg.Embedding.MaxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Embed 将查询文本转换为向量
//
// 缓存命中直接返回，不占用闸门配额也不经过熔断器。未命中时在统一的
// 截止时间内排队、调用上游并按需重试，闸门配额在退避期间不释放，
// 保证同时在途的上游请求数不超过上限。
func (s *EmbeddingService) Embed(ctx context.Context, text, correlationID string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NewInvalidInputError("text", "不能为空")
	}

	start := time.Now()
	s.recorder.RecordStart(correlationID, "embedding", zap.Int("text_length", len(text)))

	dimensions := s.embedder.Dimensions()
	if s.cache != nil {
		if embedding, ok := s.cache.Get(ctx, s.model, dimensions, text); ok {
			s.recorder.RecordSuccess(correlationID, "embedding", time.Since(start),
				zap.Bool("cache_hit", true),
				zap.Int("dimensions", len(embedding)))
			return embedding, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		appErr := errors.Translate(err).WithCorrelationID(correlationID)
		s.recorder.RecordFailure(correlationID, "embedding", time.Since(start), string(appErr.Code))
		return nil, appErr
	}
	defer s.gate.Release(1)
	defer s.recorder.TrackInFlight("embedding")()

	embedding, err := s.embedWithRetry(ctx, text, correlationID)
	s.recorder.RecordBreakerState(s.breaker.name, s.breaker.GetState())
	if err != nil {
		appErr := errors.GetAppError(err)
		s.recorder.RecordFailure(correlationID, "embedding", time.Since(start), string(appErr.Code))
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, s.model, dimensions, text, embedding)
	}

	s.recorder.RecordSuccess(correlationID, "embedding", time.Since(start),
		zap.Int("dimensions", len(embedding)))
	return embedding, nil
}

// embedWithRetry 带退避的上游调用循环
//
// 只重试瞬时失败（超时、上游不可用、连接失败），其余错误立即返回。
// 每次尝试都经过熔断器，熔断打开时得到CIRCUIT_OPEN并停止重试。
func (s *EmbeddingService) embedWithRetry(ctx context.Context, text, correlationID string) ([]float32, error) {
	var lastErr *errors.AppError

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, errors.Translate(ctx.Err()).WithCorrelationID(correlationID)
			case <-time.After(delay):
			}
			logger.Debug("重试向量化请求",
				zap.String("correlation_id", correlationID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
		}

		var embedding []float32
		err := s.breaker.Call(ctx, func() error {
			var embedErr error
			embedding, embedErr = s.embedder.Embed(ctx, text)
			return embedErr
		})
		if err == nil {
			return embedding, nil
		}

		lastErr = errors.Translate(err).WithCorrelationID(correlationID)
		if !errors.IsRetryable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// Ready 上游向量化服务是否可用
func (s *EmbeddingService) Ready() bool {
	return s.embedder != nil && s.embedder.Ready()
}

// BreakerState 返回熔断器当前状态，用于健康检查输出
func (s *EmbeddingService) BreakerState() CircuitBreakerState {
	return s.breaker.GetState()
}
