package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/aihub/retrieval-go/internal/errors"
)

// DatabaseVectorStore 基于PostgreSQL的退化向量存储
//
// 向量以JSON列存放在knowledge_chunks表中，相似度在应用侧计算。
// 适合中小规模知识库，大规模场景应切换到Milvus或Elasticsearch后端。
type DatabaseVectorStore struct {
	db         *gorm.DB
	dimensions int
}

func NewDatabaseVectorStore(db *gorm.DB, dimensions int) VectorStore {
	return &DatabaseVectorStore{db: db, dimensions: dimensions}
}

func (s *DatabaseVectorStore) UpsertChunk(ctx context.Context, chunk VectorChunk) (string, error) {
	if err := ValidateEmbedding(chunk.Embedding, s.dimensions); err != nil {
		return "", err
	}

	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "序列化向量失败")
	}

	vectorID := fmt.Sprintf("db_%d", chunk.ChunkID)
	err = s.db.WithContext(ctx).Table("knowledge_chunks").
		Where("chunk_id = ?", chunk.ChunkID).
		Updates(map[string]interface{}{
			"vector_id": vectorID,
			"embedding": string(embeddingJSON),
		}).Error
	if err != nil {
		return "", errors.NewDatabaseError("写入向量失败").WithCause(err)
	}
	return vectorID, nil
}

func (s *DatabaseVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID uint, documentID uint) error {
	err := s.db.WithContext(ctx).Table("knowledge_chunks").
		Where("document_id = ?", documentID).
		Updates(map[string]interface{}{
			"vector_id": "",
			"embedding": "",
		}).Error
	if err != nil {
		return errors.NewDatabaseError("清除文档向量失败").WithCause(err)
	}
	return nil
}

func (s *DatabaseVectorStore) Search(ctx context.Context, req VectorSearchRequest) (*VectorSearchResult, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, errors.NewInvalidInputError("query_embedding", "must not be empty")
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.CandidateLimit == 0 {
		req.CandidateLimit = req.Limit * 20
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, errors.NewInvalidInputError("query_embedding", "norm is zero")
	}

	scope := s.db.WithContext(ctx).
		Table("knowledge_chunks").
		Joins("JOIN knowledge_documents ON knowledge_chunks.document_id = knowledge_documents.document_id").
		Where("knowledge_documents.knowledge_base_id = ?", req.KnowledgeBaseID).
		Where("knowledge_chunks.embedding IS NOT NULL AND knowledge_chunks.embedding::text <> ''")

	// 检索范围总数，与阈值命中数分开统计
	var totalCandidates int64
	if err := scope.Session(&gorm.Session{}).Count(&totalCandidates).Error; err != nil {
		return nil, errors.NewDatabaseError("统计候选总数失败").WithCause(err)
	}

	var rows []chunkEmbeddingRecord
	err := scope.Session(&gorm.Session{}).
		Select("knowledge_chunks.chunk_id, knowledge_chunks.document_id, knowledge_chunks.content, knowledge_chunks.token_count, knowledge_chunks.embedding, knowledge_chunks.metadata").
		Limit(req.CandidateLimit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.NewDatabaseError("向量检索失败").WithCause(err)
	}

	// 返回集不做阈值过滤，阈值命中数单独统计，便于区分"无数据"与"低于阈值"
	aboveThreshold := 0
	matches := make([]SearchMatch, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &embedding); err != nil {
			continue
		}
		score := cosineSimilarity(req.QueryEmbedding, embedding, queryNorm)
		if score >= req.Threshold {
			aboveThreshold++
		}

		var metadata map[string]interface{}
		if row.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(row.MetadataJSON), &metadata)
		}
		matches = append(matches, SearchMatch{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Content:    row.Content,
			Score:      score,
			TokenCount: row.TokenCount,
			Metadata:   metadata,
		})
	}

	// 排序
	sortMatchesByScore(matches)
	if len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}

	return &VectorSearchResult{
		Matches:             matches,
		TotalCandidates:     int(totalCandidates),
		AboveThresholdCount: aboveThreshold,
	}, nil
}

func (s *DatabaseVectorStore) Ready() bool {
	return s.db != nil
}

type chunkEmbeddingRecord struct {
	ChunkID       uint
	DocumentID    uint
	Content       string
	TokenCount    int    `gorm:"column:token_count"`
	EmbeddingJSON string `gorm:"column:embedding"`
	MetadataJSON  string `gorm:"column:metadata"`
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		// 尝试对齐长度
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
