package services

import (
	"sort"

	"github.com/aihub/retrieval-go/internal/knowledge"
)

// RetrievedChunk 检索结果中的单个文本块
type RetrievedChunk struct {
	ChunkID    uint    `json:"chunk_id"`
	DocumentID uint    `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	TokenCount int     `json:"token_count"`
}

// PackedContext 打包后的上下文
type PackedContext struct {
	Chunks            []RetrievedChunk `json:"chunks"`
	TotalTokens       int              `json:"total_tokens"`
	SkippedOverBudget int              `json:"skipped_over_budget"`
}

// AssembleOptions 打包参数
type AssembleOptions struct {
	Threshold   float64
	MaxChunks   int
	TokenBudget int
}

// ContextAssembler 上下文打包器
//
// 按相似度从高到低做贪心装箱：先过滤低于阈值的候选，再在token预算内
// 依次装入。装不下的块整体跳过而不截断，跳过后继续尝试分数更低但
// 更小的块。返回顺序保持相似度降序。
type ContextAssembler struct {
	tokenCounter *TokenCounter
}

// NewContextAssembler 创建上下文打包器
func NewContextAssembler(tokenCounter *TokenCounter) *ContextAssembler {
	if tokenCounter == nil {
		tokenCounter = NewTokenCounter()
	}
	return &ContextAssembler{tokenCounter: tokenCounter}
}

// Assemble 在阈值与预算约束下打包检索候选
func (a *ContextAssembler) Assemble(matches []knowledge.SearchMatch, opts AssembleOptions) *PackedContext {
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 10
	}
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = 4000
	}

	ordered := make([]knowledge.SearchMatch, len(matches))
	copy(ordered, matches)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].ChunkID < ordered[j].ChunkID
	})

	result := &PackedContext{Chunks: make([]RetrievedChunk, 0, maxChunks)}
	totalTokens := 0

	for _, match := range ordered {
		if match.Score < opts.Threshold {
			continue
		}
		if len(result.Chunks) >= maxChunks {
			break
		}

		tokens := match.TokenCount
		if tokens <= 0 {
			tokens = a.tokenCounter.CountTokens(match.Content)
		}

		// 整块放不下就跳过，不截断内容，后面的小块仍有机会装入
		if totalTokens+tokens > budget {
			result.SkippedOverBudget++
			continue
		}

		result.Chunks = append(result.Chunks, RetrievedChunk{
			ChunkID:    match.ChunkID,
			DocumentID: match.DocumentID,
			Content:    match.Content,
			Score:      match.Score,
			TokenCount: tokens,
		})
		totalTokens += tokens
	}

	result.TotalTokens = totalTokens
	return result
}
