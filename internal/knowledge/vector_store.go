package knowledge

import (
	"context"
	"math"
	"sort"

	"github.com/aihub/retrieval-go/internal/errors"
)

// VectorChunk 存储向量信息
type VectorChunk struct {
	ChunkID         uint
	DocumentID      uint
	KnowledgeBaseID uint
	Text            string
	TokenCount      int
	Embedding       []float32
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	KnowledgeBaseID uint
	QueryEmbedding  []float32
	Limit           int
	CandidateLimit  int
	Threshold       float64 // 只参与AboveThresholdCount统计，不过滤返回集
}

// SearchMatch 单条检索命中
type SearchMatch struct {
	ChunkID    uint
	DocumentID uint
	Content    string
	Score      float64
	TokenCount int
	Metadata   map[string]interface{}
}

// VectorSearchResult 向量检索结果
//
// TotalCandidates 统计检索范围内参与打分的条目数，
// AboveThresholdCount 统计其中达到阈值的条目数，两者独立计数。
type VectorSearchResult struct {
	Matches             []SearchMatch
	TotalCandidates     int
	AboveThresholdCount int
}

// VectorStore 向量存储抽象
type VectorStore interface {
	UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error)
	DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error
	Search(ctx context.Context, req VectorSearchRequest) (*VectorSearchResult, error)
	Ready() bool
}

// ValidateEmbedding 校验向量维度与数值合法性
func ValidateEmbedding(vec []float32, dimensions int) error {
	if len(vec) == 0 {
		return errors.NewInvalidResponseError("embedding is empty")
	}
	if dimensions > 0 && len(vec) != dimensions {
		return errors.NewInvalidResponseError("embedding dimension mismatch").
			WithDetails(map[string]interface{}{
				"expected": dimensions,
				"actual":   len(vec),
			})
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.NewInvalidResponseError("embedding contains non-finite value").
				WithDetails(map[string]interface{}{"index": i})
		}
	}
	return nil
}

// sortMatchesByScore 按相似度降序排序，同分按ChunkID升序保证结果稳定
func sortMatchesByScore(matches []SearchMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
}
