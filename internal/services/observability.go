package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/aihub/retrieval-go/internal/logger"
)

// OperationRecorder 检索操作生命周期记录器
//
// 每个生命周期事件只写一次：日志走专用命名Logger实例（单一输出端，
// 不经过全局传播），指标写入注入的registry。同一correlation id的
// 内部重试不会产生新的操作记录。
type OperationRecorder struct {
	logger *zap.Logger

	opsStarted   *prometheus.CounterVec
	opsCompleted *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec

	similarityScores prometheus.Histogram
	candidatesTotal  prometheus.Counter
	aboveThreshold   prometheus.Counter

	breakerState *prometheus.GaugeVec
	inFlight     *prometheus.GaugeVec
}

// NewOperationRecorder 创建操作记录器
//
// registry为nil时使用默认registry；测试注入独立registry避免指标冲突。
func NewOperationRecorder(reg prometheus.Registerer) *OperationRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &OperationRecorder{
		logger: logger.Named("operation"),

		opsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_operations_started_total",
				Help: "Number of retrieval operations started",
			},
			[]string{"operation"},
		),
		opsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_operations_completed_total",
				Help: "Number of retrieval operations completed, by outcome",
			},
			[]string{"operation", "outcome"},
		),
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_operation_duration_seconds",
				Help:    "Duration of retrieval operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		similarityScores: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_similarity_scores",
				Help:    "Distribution of similarity scores across searches",
				Buckets: []float64{-1, -0.5, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		),
		candidatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_candidates_total",
				Help: "Total number of candidates scored across searches",
			},
		),
		aboveThreshold: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_above_threshold_total",
				Help: "Number of scored candidates at or above the similarity threshold",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "retrieval_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "retrieval_in_flight",
				Help: "Number of upstream calls currently in flight",
			},
			[]string{"operation"},
		),
	}
}

// RecordStart 记录操作开始
func (r *OperationRecorder) RecordStart(correlationID, operation string, fields ...zap.Field) {
	r.opsStarted.WithLabelValues(operation).Inc()
	r.logger.Info("operation started",
		append([]zap.Field{
			zap.String("correlation_id", correlationID),
			zap.String("operation", operation),
		}, fields...)...)
}

// RecordSuccess 记录操作成功
func (r *OperationRecorder) RecordSuccess(correlationID, operation string, duration time.Duration, fields ...zap.Field) {
	r.opsCompleted.WithLabelValues(operation, "success").Inc()
	r.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
	r.logger.Info("operation succeeded",
		append([]zap.Field{
			zap.String("correlation_id", correlationID),
			zap.String("operation", operation),
			zap.Int64("duration_ms", duration.Milliseconds()),
		}, fields...)...)
}

// RecordFailure 记录操作失败
func (r *OperationRecorder) RecordFailure(correlationID, operation string, duration time.Duration, errorKind string, fields ...zap.Field) {
	r.opsCompleted.WithLabelValues(operation, errorKind).Inc()
	r.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
	r.logger.Warn("operation failed",
		append([]zap.Field{
			zap.String("correlation_id", correlationID),
			zap.String("operation", operation),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("error_kind", errorKind),
		}, fields...)...)
}

// RecordSearchScores 记录一次成功检索的相似度分布与阈值命中情况
//
// 无论结果是否过阈值都记录，便于诊断"阈值过严"而无需重放查询。
func (r *OperationRecorder) RecordSearchScores(scores []float64, totalCandidates, aboveThresholdCount int) {
	for _, score := range scores {
		r.similarityScores.Observe(score)
	}
	r.candidatesTotal.Add(float64(totalCandidates))
	r.aboveThreshold.Add(float64(aboveThresholdCount))
}

// RecordBreakerState 上报熔断器当前状态
func (r *OperationRecorder) RecordBreakerState(name string, state CircuitBreakerState) {
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// TrackInFlight 登记一次在途上游调用，返回的函数在调用结束时执行
func (r *OperationRecorder) TrackInFlight(operation string) func() {
	gauge := r.inFlight.WithLabelValues(operation)
	gauge.Inc()
	return gauge.Dec
}
