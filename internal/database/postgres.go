package database

import (
	"fmt"
	"log"
	"time"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen, maxIdle, maxLifetime, maxIdleTime := poolSettings(cfg.Database)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	sqlDB.SetConnMaxIdleTime(maxIdleTime)

	// 自动迁移知识库相关表
	if err := autoMigrate(db); err != nil {
		log.Printf("⚠️  Database migration warning: %v", err)
	}

	DB = db
	log.Println("✅ Database connected successfully")
	return db, nil
}

// poolSettings 解析连接池参数，未配置项回退到默认值
func poolSettings(cfg config.DatabaseConfig) (maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) {
	maxOpen = cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	maxIdle = cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	maxLifetime = cfg.ConnMaxLifetime
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}
	maxIdleTime = cfg.ConnMaxIdleTime
	if maxIdleTime <= 0 {
		maxIdleTime = 30 * time.Minute
	}
	return maxOpen, maxIdle, maxLifetime, maxIdleTime
}

// autoMigrate 自动迁移知识库与审计相关表
func autoMigrate(db *gorm.DB) error {
	// 按依赖顺序迁移，AutoMigrate失败时回退到手工建表
	if err := db.AutoMigrate(&models.KnowledgeBase{}); err != nil {
		log.Printf("⚠️  Failed to migrate knowledge_bases: %v", err)
		// 继续执行，可能表已存在
	}

	if err := db.AutoMigrate(&models.KnowledgeDocument{}); err != nil {
		log.Printf("⚠️  Failed to migrate knowledge_documents: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS knowledge_documents (
				document_id bigserial PRIMARY KEY,
				knowledge_base_id bigint NOT NULL,
				title varchar(200) NOT NULL,
				content text NOT NULL,
				source varchar(20) NOT NULL,
				metadata json,
				status varchar(20) DEFAULT 'ready',
				create_time timestamptz DEFAULT NOW(),
				update_time timestamptz,
				CONSTRAINT fk_knowledge_bases_documents FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_bases(knowledge_base_id)
			)
		`)
	}

	if err := db.AutoMigrate(&models.KnowledgeChunk{}); err != nil {
		log.Printf("⚠️  Failed to migrate knowledge_chunks: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS knowledge_chunks (
				chunk_id bigserial PRIMARY KEY,
				document_id bigint NOT NULL,
				content text NOT NULL,
				chunk_index integer NOT NULL,
				vector_id varchar(255),
				embedding json,
				metadata json,
				token_count integer DEFAULT 0,
				chunk_position integer DEFAULT 0,
				create_time timestamptz DEFAULT NOW(),
				CONSTRAINT fk_knowledge_documents_chunks FOREIGN KEY (document_id) REFERENCES knowledge_documents(document_id)
			)
		`)
	}

	if err := db.AutoMigrate(&models.RetrievalAudit{}); err != nil {
		log.Printf("⚠️  Failed to migrate retrieval_audits: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS retrieval_audits (
				audit_id bigserial PRIMARY KEY,
				knowledge_base_id bigint NOT NULL,
				correlation_id varchar(64),
				query text NOT NULL,
				results json,
				chunk_count integer DEFAULT 0,
				total_tokens integer DEFAULT 0,
				duration_ms bigint DEFAULT 0,
				outcome varchar(40),
				create_time timestamptz DEFAULT NOW()
			)
		`)
		db.Exec(`CREATE INDEX IF NOT EXISTS idx_retrieval_audits_correlation_id ON retrieval_audits(correlation_id)`)
	}

	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
