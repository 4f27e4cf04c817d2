package database

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// OpenMigrationDB 为迁移打开独立的数据库连接
//
// 迁移走database/sql直连，不复用gorm的连接池，迁移锁不影响在线检索。
func OpenMigrationDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// MigrationManagerFactory 迁移管理器工厂
type MigrationManagerFactory struct {
	migrationPath string
	logger        *logrus.Logger
}

// NewMigrationManagerFactory 创建迁移管理器工厂，路径为空时使用./migrations
func NewMigrationManagerFactory(migrationPath string, logger *logrus.Logger) *MigrationManagerFactory {
	if migrationPath == "" {
		migrationPath = "./migrations"
	}

	// golang-migrate的file源需要绝对路径
	if absPath, err := filepath.Abs(migrationPath); err == nil {
		migrationPath = absPath
	}

	return &MigrationManagerFactory{
		migrationPath: migrationPath,
		logger:        logger,
	}
}

// CreateManager 创建迁移管理器
func (f *MigrationManagerFactory) CreateManager(db *sql.DB) (*MigrationManager, error) {
	return NewMigrationManager(db, f.migrationPath, f.logger)
}

// GetMigrationPath 获取迁移文件路径
func (f *MigrationManagerFactory) GetMigrationPath() string {
	return f.migrationPath
}
