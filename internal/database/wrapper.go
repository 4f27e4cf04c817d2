package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aihub/retrieval-go/internal/config"
)

// DatabaseWrapper 数据库包装器
//
// 在连接之上挂健康检查与连接池指标，作为进程内唯一的数据库入口。
type DatabaseWrapper struct {
	db            *gorm.DB
	sqlDB         *sql.DB
	config        *config.Config
	healthChecker *HealthChecker
	metrics       *MetricsCollector
}

// NewDatabase 创建带监控的数据库实例
func NewDatabase(cfg *config.Config, reg prometheus.Registerer) (*DatabaseWrapper, error) {
	db, err := InitDB()
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	metrics := NewMetricsCollector(sqlDB, log, reg)
	metrics.SetCollectInterval(cfg.Metrics.Interval)

	wrapper := &DatabaseWrapper{
		db:            db,
		sqlDB:         sqlDB,
		config:        cfg,
		healthChecker: NewHealthChecker(sqlDB, log),
		metrics:       metrics,
	}

	return wrapper, nil
}

// GetDB 获取数据库连接
func (d *DatabaseWrapper) GetDB() *gorm.DB {
	return d.db
}

// Close 关闭数据库连接
func (d *DatabaseWrapper) Close() error {
	if d.db == nil {
		return nil
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// HealthCheck 健康检查
func (d *DatabaseWrapper) HealthCheck() error {
	if d.healthChecker != nil {
		// 使用健康检查器的结果
		if d.healthChecker.IsHealthy() {
			return nil
		}
		// 如果健康检查器不可用或不健康，直接ping
	}

	if d.sqlDB == nil {
		return fmt.Errorf("database connection is nil")
	}

	return d.sqlDB.Ping()
}

// StartMonitoring 启动监控（健康检查和指标收集）
func (d *DatabaseWrapper) StartMonitoring(ctx context.Context) {
	if d.healthChecker != nil {
		go d.healthChecker.Start(ctx)
	}

	if d.metrics != nil && d.config.Metrics.Enabled {
		d.metrics.Start(ctx)
	}
}

// StopHealthCheck 停止健康检查
func (d *DatabaseWrapper) StopHealthCheck() {
	if d.healthChecker != nil {
		d.healthChecker.Stop()
	}
}

// GetHealthStatus 获取健康状态
func (d *DatabaseWrapper) GetHealthStatus() HealthCheckResult {
	if d.healthChecker != nil {
		return d.healthChecker.GetHealthResult()
	}
	return HealthCheckResult{
		Healthy:   false,
		LastError: "health checker not initialized",
	}
}

// Metrics 获取指标收集器
func (d *DatabaseWrapper) Metrics() *MetricsCollector {
	return d.metrics
}
