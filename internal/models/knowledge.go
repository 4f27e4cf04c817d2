package models

import (
	"time"
)

// KnowledgeBase 知识库
type KnowledgeBase struct {
	KnowledgeBaseID uint      `gorm:"primaryKey;column:knowledge_base_id" json:"knowledge_base_id"`
	Name            string    `gorm:"size:200;not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	Config          string    `gorm:"type:json" json:"config"`
	Status          string    `gorm:"size:20;default:active" json:"status"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Documents []KnowledgeDocument `gorm:"foreignKey:KnowledgeBaseID"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// KnowledgeDocument 知识库文档
type KnowledgeDocument struct {
	DocumentID      uint          `gorm:"primaryKey;column:document_id" json:"document_id"`
	KnowledgeBaseID uint          `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	KnowledgeBase   KnowledgeBase `gorm:"foreignKey:KnowledgeBaseID"`
	Title           string        `gorm:"size:200;not null" json:"title"`
	Content         string        `gorm:"type:text;not null" json:"content"`
	Source          string        `gorm:"size:20;not null" json:"source"`
	Metadata        string        `gorm:"type:json" json:"metadata"`
	Status          string        `gorm:"size:20;default:processing" json:"status"`
	CreateTime      time.Time     `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time     `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []KnowledgeChunk `gorm:"foreignKey:DocumentID"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk 知识块
type KnowledgeChunk struct {
	ChunkID       uint              `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID    uint              `gorm:"column:document_id;not null;index" json:"document_id"`
	Document      KnowledgeDocument `gorm:"foreignKey:DocumentID"`
	Content       string            `gorm:"type:text;not null" json:"content"`
	ChunkIndex    int               `gorm:"not null;index" json:"chunk_index"`
	VectorID      string            `gorm:"size:255" json:"vector_id"`
	Embedding     string            `gorm:"type:json" json:"embedding"`
	Metadata      string            `gorm:"type:json" json:"metadata"`
	TokenCount    int               `gorm:"column:token_count;default:0" json:"token_count"`
	ChunkPosition int               `gorm:"column:chunk_position;default:0" json:"chunk_position"`
	CreateTime    time.Time         `gorm:"column:create_time" json:"create_time"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// RetrievalAudit 检索审计记录，每次检索请求落一条
type RetrievalAudit struct {
	AuditID         uint      `gorm:"primaryKey;column:audit_id" json:"audit_id"`
	KnowledgeBaseID uint      `gorm:"column:knowledge_base_id;not null;index" json:"knowledge_base_id"`
	CorrelationID   string    `gorm:"column:correlation_id;size:64;index" json:"correlation_id"`
	Query           string    `gorm:"type:text;not null" json:"query"`
	Results         string    `gorm:"type:json" json:"results"`
	ChunkCount      int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	TotalTokens     int       `gorm:"column:total_tokens;default:0" json:"total_tokens"`
	DurationMs      int64     `gorm:"column:duration_ms;default:0" json:"duration_ms"`
	Outcome         string    `gorm:"size:40" json:"outcome"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
}

func (RetrievalAudit) TableName() string {
	return "retrieval_audits"
}
