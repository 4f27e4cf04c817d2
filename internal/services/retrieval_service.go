package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/kafka"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/models"
)

// 检索结果分类，写入日志、审计记录与事件的outcome字段
const (
	OutcomeSuccess        = "success"
	OutcomeEmptyBase      = "empty_knowledge_base"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeBudgetExceeded = "budget_exceeded"
)

// RetrievalQuery 检索请求
//
// Threshold、MaxChunks、TokenBudget为nil时使用配置默认值。
type RetrievalQuery struct {
	Text            string
	KnowledgeBaseID uint
	CorrelationID   string
	Threshold       *float64
	MaxChunks       *int
	TokenBudget     *int
}

// RetrievalResult 检索结果
//
// TotalCandidates与AboveThresholdCount独立计数：前者为0说明知识库
// 没有可检索内容，前者大于0而后者为0说明内容都低于阈值。调用方凭
// 这两个数字区分"无数据"与"不相关"，空结果本身不是错误。
type RetrievalResult struct {
	CorrelationID       string           `json:"correlation_id"`
	KnowledgeBaseID     uint             `json:"knowledge_base_id"`
	Chunks              []RetrievedChunk `json:"chunks"`
	TotalTokens         int              `json:"total_tokens"`
	TotalCandidates     int              `json:"total_candidates"`
	AboveThresholdCount int              `json:"above_threshold_count"`
	Outcome             string           `json:"outcome"`
	Duration            time.Duration    `json:"duration"`
}

// RetrievalService 检索编排服务
//
// 串起整条链路：查询向量化、向量检索、阈值过滤与预算打包、审计落库、
// 事件发布。向量化失败直接报错而不是静默返回空结果，检索阶段有独立
// 的超时。审计与事件是尽力而为，失败只记日志。
type RetrievalService struct {
	embedding *EmbeddingService
	store     knowledge.VectorStore
	assembler *ContextAssembler
	recorder  *OperationRecorder
	producer  *kafka.Producer
	db        *gorm.DB

	threshold      float64
	maxChunks      int
	tokenBudget    int
	candidateLimit int
	searchTimeout  time.Duration
	auditEnabled   bool
}

// NewRetrievalService 创建检索编排服务
func NewRetrievalService(
	embedding *EmbeddingService,
	store knowledge.VectorStore,
	assembler *ContextAssembler,
	recorder *OperationRecorder,
	producer *kafka.Producer,
	db *gorm.DB,
	cfg *config.Config,
) *RetrievalService {
	candidateLimit := cfg.Retrieval.CandidateLimit
	if candidateLimit <= 0 {
		candidateLimit = 200
	}
	searchTimeout := cfg.Retrieval.SearchTimeout
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}
	maxChunks := cfg.Retrieval.DefaultMaxChunks
	if maxChunks <= 0 {
		maxChunks = 10
	}
	tokenBudget := cfg.Retrieval.DefaultTokenBudget
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}

	return &RetrievalService{
		embedding:      embedding,
		store:          store,
		assembler:      assembler,
		recorder:       recorder,
		producer:       producer,
		db:             db,
		threshold:      cfg.Retrieval.DefaultThreshold,
		maxChunks:      maxChunks,
		tokenBudget:    tokenBudget,
		candidateLimit: candidateLimit,
		searchTimeout:  searchTimeout,
		auditEnabled:   cfg.Retrieval.AuditEnabled,
	}
}

// Retrieve 执行一次完整的检索
//
// 同一correlation id贯穿向量化、检索与审计，内部重试不会产生新的id。
func (s *RetrievalService) Retrieve(ctx context.Context, query *RetrievalQuery) (*RetrievalResult, error) {
	correlationID := query.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	threshold, maxChunks, tokenBudget, err := s.resolveOptions(query)
	if err != nil {
		return nil, errors.GetAppError(err).WithCorrelationID(correlationID)
	}

	start := time.Now()
	s.recorder.RecordStart(correlationID, "retrieval",
		zap.Uint("knowledge_base_id", query.KnowledgeBaseID),
		zap.Int("query_length", len(query.Text)))

	embedding, err := s.embedding.Embed(ctx, query.Text, correlationID)
	if err != nil {
		// 向量化失败直接返回错误，不降级为空结果
		appErr := errors.Translate(err).WithCorrelationID(correlationID)
		s.recorder.RecordFailure(correlationID, "retrieval", time.Since(start), string(appErr.Code))
		return nil, appErr
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	searchResult, err := s.store.Search(searchCtx, knowledge.VectorSearchRequest{
		KnowledgeBaseID: query.KnowledgeBaseID,
		QueryEmbedding:  embedding,
		Limit:           s.candidateLimit,
		CandidateLimit:  s.candidateLimit,
		Threshold:       threshold,
	})
	if err != nil {
		appErr := errors.Translate(err).WithCorrelationID(correlationID)
		s.recorder.RecordFailure(correlationID, "retrieval", time.Since(start), string(appErr.Code))
		return nil, appErr
	}

	scores := make([]float64, 0, len(searchResult.Matches))
	for _, match := range searchResult.Matches {
		scores = append(scores, match.Score)
	}
	s.recorder.RecordSearchScores(scores, searchResult.TotalCandidates, searchResult.AboveThresholdCount)

	packed := s.assembler.Assemble(searchResult.Matches, AssembleOptions{
		Threshold:   threshold,
		MaxChunks:   maxChunks,
		TokenBudget: tokenBudget,
	})

	duration := time.Since(start)
	result := &RetrievalResult{
		CorrelationID:       correlationID,
		KnowledgeBaseID:     query.KnowledgeBaseID,
		Chunks:              packed.Chunks,
		TotalTokens:         packed.TotalTokens,
		TotalCandidates:     searchResult.TotalCandidates,
		AboveThresholdCount: searchResult.AboveThresholdCount,
		Duration:            duration,
	}
	result.Outcome = classifyOutcome(result)

	s.writeAudit(query, result)
	s.publishEvent(query, result)

	s.recorder.RecordSuccess(correlationID, "retrieval", duration,
		zap.String("outcome", result.Outcome),
		zap.Int("chunk_count", len(result.Chunks)),
		zap.Int("total_candidates", result.TotalCandidates),
		zap.Int("above_threshold", result.AboveThresholdCount),
		zap.Int("total_tokens", result.TotalTokens),
		zap.Int("skipped_over_budget", packed.SkippedOverBudget))

	return result, nil
}

// resolveOptions 校验请求并合并配置默认值与单次覆盖
func (s *RetrievalService) resolveOptions(query *RetrievalQuery) (threshold float64, maxChunks, tokenBudget int, err error) {
	if strings.TrimSpace(query.Text) == "" {
		return 0, 0, 0, errors.NewInvalidInputError("query", "不能为空")
	}
	if query.KnowledgeBaseID == 0 {
		return 0, 0, 0, errors.NewInvalidInputError("knowledge_base_id", "必须大于0")
	}

	threshold = s.threshold
	if query.Threshold != nil {
		threshold = *query.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return 0, 0, 0, errors.NewInvalidInputError("threshold", "必须在0到1之间")
	}

	maxChunks = s.maxChunks
	if query.MaxChunks != nil {
		maxChunks = *query.MaxChunks
	}
	if maxChunks <= 0 {
		return 0, 0, 0, errors.NewInvalidInputError("max_chunks", "必须大于0")
	}

	tokenBudget = s.tokenBudget
	if query.TokenBudget != nil {
		tokenBudget = *query.TokenBudget
	}
	if tokenBudget <= 0 {
		return 0, 0, 0, errors.NewInvalidInputError("token_budget", "必须大于0")
	}

	return threshold, maxChunks, tokenBudget, nil
}

// classifyOutcome 区分空知识库、全部低于阈值、预算放不下三种空结果
func classifyOutcome(result *RetrievalResult) string {
	switch {
	case len(result.Chunks) > 0:
		return OutcomeSuccess
	case result.TotalCandidates == 0:
		return OutcomeEmptyBase
	case result.AboveThresholdCount == 0:
		return OutcomeBelowThreshold
	default:
		return OutcomeBudgetExceeded
	}
}

type auditChunk struct {
	ChunkID    uint    `json:"chunk_id"`
	DocumentID uint    `json:"document_id"`
	Score      float64 `json:"score"`
	TokenCount int     `json:"token_count"`
}

// writeAudit 落审计记录，失败只记日志
func (s *RetrievalService) writeAudit(query *RetrievalQuery, result *RetrievalResult) {
	if !s.auditEnabled || s.db == nil {
		return
	}

	summary := make([]auditChunk, 0, len(result.Chunks))
	for _, chunk := range result.Chunks {
		summary = append(summary, auditChunk{
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Score:      chunk.Score,
			TokenCount: chunk.TokenCount,
		})
	}
	resultsJSON, err := json.Marshal(summary)
	if err != nil {
		logger.Warn("审计记录序列化失败", zap.Error(err))
		return
	}

	audit := &models.RetrievalAudit{
		KnowledgeBaseID: query.KnowledgeBaseID,
		CorrelationID:   result.CorrelationID,
		Query:           query.Text,
		Results:         string(resultsJSON),
		ChunkCount:      len(result.Chunks),
		TotalTokens:     result.TotalTokens,
		DurationMs:      result.Duration.Milliseconds(),
		Outcome:         result.Outcome,
		CreateTime:      time.Now(),
	}
	if err := s.db.Create(audit).Error; err != nil {
		logger.Warn("写入检索审计记录失败",
			zap.Error(err),
			zap.String("correlation_id", result.CorrelationID))
	}
}

// publishEvent 发布检索完成事件，失败只记日志
func (s *RetrievalService) publishEvent(query *RetrievalQuery, result *RetrievalResult) {
	event := &kafka.RetrievalEvent{
		CorrelationID:       result.CorrelationID,
		KnowledgeBaseID:     query.KnowledgeBaseID,
		Query:               query.Text,
		ChunkCount:          len(result.Chunks),
		TotalTokens:         result.TotalTokens,
		TotalCandidates:     result.TotalCandidates,
		AboveThresholdCount: result.AboveThresholdCount,
		DurationMs:          result.Duration.Milliseconds(),
		Outcome:             result.Outcome,
		Timestamp:           time.Now(),
	}
	if err := s.producer.SendRetrievalEvent(event); err != nil {
		logger.Warn("发布检索事件失败",
			zap.Error(err),
			zap.String("correlation_id", result.CorrelationID))
	}
}
