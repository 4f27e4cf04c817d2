package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationManager 数据库迁移管理器
//
// 知识库与审计表的结构变更全部走版本化迁移，AutoMigrate只在开发环境兜底。
type MigrationManager struct {
	migrate       *migrate.Migrate
	migrationPath string
	logger        *logrus.Logger
}

// NewMigrationManager 创建迁移管理器
func NewMigrationManager(db *sql.DB, migrationPath string, logger *logrus.Logger) (*MigrationManager, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationManager{
		migrate:       m,
		migrationPath: migrationPath,
		logger:        logger,
	}, nil
}

// Up 执行所有待执行的迁移
func (mm *MigrationManager) Up() error {
	mm.logger.Info("Starting database migration up")

	err := mm.migrate.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		mm.logger.Info("No migrations to apply")
	} else {
		mm.logger.Info("Database migrations completed successfully")
	}

	return nil
}

// UpTo 迁移到指定版本
func (mm *MigrationManager) UpTo(version uint) error {
	mm.logger.Infof("Migrating up to version %d", version)

	if err := mm.migrate.Migrate(version); err != nil {
		return fmt.Errorf("failed to migrate to version %d: %w", version, err)
	}

	mm.logger.Infof("Successfully migrated to version %d", version)
	return nil
}

// Down 回滚最后一次迁移
func (mm *MigrationManager) Down() error {
	mm.logger.Info("Rolling back last migration")

	if err := mm.migrate.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	mm.logger.Info("Migration rollback completed")
	return nil
}

// DownTo 回滚到指定版本
func (mm *MigrationManager) DownTo(version uint) error {
	mm.logger.Infof("Rolling back to version %d", version)

	if err := mm.migrate.Migrate(version); err != nil {
		return fmt.Errorf("failed to rollback to version %d: %w", version, err)
	}

	mm.logger.Infof("Successfully rolled back to version %d", version)
	return nil
}

// Version 获取当前数据库版本，尚未执行过迁移时返回0
func (mm *MigrationManager) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Pending 检查迁移目录里是否有比当前数据库版本更高的迁移
func (mm *MigrationManager) Pending() (bool, error) {
	latest, err := latestMigrationVersion(mm.migrationPath)
	if err != nil {
		return false, err
	}
	if latest == 0 {
		return false, nil
	}

	version, dirty, err := mm.Version()
	if err != nil {
		return false, err
	}
	if dirty {
		return false, fmt.Errorf("database is in dirty state at version %d", version)
	}

	return latest > version, nil
}

// ForceVersion 强制设置数据库版本，用于修复脏状态
func (mm *MigrationManager) ForceVersion(version uint) error {
	mm.logger.Warnf("Force setting migration version to %d", version)

	if err := mm.migrate.Force(int(version)); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	return nil
}

// Close 关闭迁移管理器
func (mm *MigrationManager) Close() error {
	sourceErr, dbErr := mm.migrate.Close()
	if sourceErr != nil {
		mm.logger.Errorf("Error closing migration source: %v", sourceErr)
	}
	if dbErr != nil {
		mm.logger.Errorf("Error closing migration database: %v", dbErr)
	}

	if sourceErr != nil || dbErr != nil {
		return fmt.Errorf("errors occurred while closing migrator: source=%v, db=%v", sourceErr, dbErr)
	}

	return nil
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.+\.up\.sql$`)

// latestMigrationVersion 扫描迁移目录，返回最高的up迁移版本号
func latestMigrationVersion(migrationPath string) (uint, error) {
	entries, err := os.ReadDir(migrationPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var latest uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}

	return uint(latest), nil
}

// CreateMigrationFile 在迁移目录下创建下一个版本的up/down迁移文件对
func CreateMigrationFile(migrationPath, name string) (upFile, downFile string, err error) {
	latest, err := latestMigrationVersion(migrationPath)
	if err != nil {
		return "", "", err
	}

	base := fmt.Sprintf("%06d_%s", latest+1, name)
	upFile = filepath.Join(migrationPath, base+".up.sql")
	downFile = filepath.Join(migrationPath, base+".down.sql")

	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %s\n", name)), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- revert %s\n", name)), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create down migration: %w", err)
	}

	return upFile, downFile, nil
}
