package knowledge

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/dashscope"
	"github.com/aihub/retrieval-go/internal/logger"
)

// NewEmbedderFromConfig 按配置选择向量化提供商
func NewEmbedderFromConfig(cfg *config.Config) Embedder {
	embedCfg := cfg.Embedding
	switch embedCfg.Provider {
	case "dashscope":
		service := dashscope.NewService(embedCfg.APIKey, embedCfg.BaseURL)
		return NewDashScopeEmbedder(service, embedCfg.Model, embedCfg.Dimensions, embedCfg.EncodingFormat)
	case "openai":
		return NewOpenAIEmbedder(embedCfg.APIKey, embedCfg.BaseURL, embedCfg.Model, embedCfg.Dimensions)
	default:
		return &NoopEmbedder{}
	}
}

// NewVectorStoreFromConfig 按配置选择向量存储后端，初始化失败时回退到数据库实现
func NewVectorStoreFromConfig(cfg *config.Config, db *gorm.DB, embedder Embedder) VectorStore {
	dimensions := cfg.Embedding.Dimensions
	if embedder != nil && embedder.Dimensions() > 0 {
		dimensions = embedder.Dimensions()
	}

	switch cfg.VectorStore.Provider {
	case "milvus":
		vectorSize := cfg.VectorStore.Milvus.VectorSize
		if vectorSize == 0 {
			vectorSize = dimensions
		}
		milvusStore, err := NewMilvusVectorStore(MilvusOptions{
			Address:          cfg.VectorStore.Milvus.Address,
			Username:         cfg.VectorStore.Milvus.Username,
			Password:         cfg.VectorStore.Milvus.Password,
			CollectionPrefix: cfg.VectorStore.Milvus.Collection,
			Database:         cfg.VectorStore.Milvus.Database,
			VectorSize:       vectorSize,
			Distance:         cfg.VectorStore.Milvus.Distance,
			UseTLS:           cfg.VectorStore.Milvus.TLS,
			Timeout:          15 * time.Second,
		})
		if err != nil {
			logger.Warn("init milvus vector store failed, fallback to database", zap.Error(err))
			return NewDatabaseVectorStore(db, dimensions)
		}
		return milvusStore
	case "elasticsearch":
		esStore, err := NewElasticsearchVectorStore(ElasticsearchOptions{
			Addresses:   cfg.VectorStore.Elasticsearch.Addresses,
			Username:    cfg.VectorStore.Elasticsearch.Username,
			Password:    cfg.VectorStore.Elasticsearch.Password,
			APIKey:      cfg.VectorStore.Elasticsearch.APIKey,
			IndexPrefix: cfg.VectorStore.Elasticsearch.IndexPrefix,
			VectorSize:  dimensions,
		})
		if err != nil {
			logger.Warn("init elasticsearch vector store failed, fallback to database", zap.Error(err))
			return NewDatabaseVectorStore(db, dimensions)
		}
		return esStore
	default:
		return NewDatabaseVectorStore(db, dimensions)
	}
}
