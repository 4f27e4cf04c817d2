package di

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/database"
	"github.com/aihub/retrieval-go/internal/kafka"
	"github.com/aihub/retrieval-go/internal/knowledge"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/services"
)

// RegisterProviders 注册所有依赖提供者
//
// 可选依赖（Redis、Kafka）初始化失败时降级为禁用实例并记录日志，
// 不阻塞启动。数据库与配置是硬依赖，失败直接返回错误。
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	// 注册指标registry
	if err := container.Provide(func() prometheus.Registerer {
		return prometheus.DefaultRegisterer
	}); err != nil {
		return err
	}

	// 注册数据库
	if err := container.Provide(database.NewDatabase); err != nil {
		return err
	}

	if err := container.Provide(func(w *database.DatabaseWrapper) *gorm.DB {
		return w.GetDB()
	}); err != nil {
		return err
	}

	// 注册Redis，连接失败时缓存禁用
	if err := container.Provide(func(cfg *config.Config) *redis.Client {
		client, err := database.InitRedis()
		if err != nil {
			logger.Warn("Redis初始化失败，向量缓存禁用", zap.Error(err))
			return nil
		}
		return client
	}); err != nil {
		return err
	}

	// 注册Kafka生产者，失败时事件发布禁用
	if err := container.Provide(func(cfg *config.Config) *kafka.Producer {
		brokers := cfg.Kafka.Brokers
		if !cfg.Kafka.Enabled {
			brokers = nil
		}
		producer, err := kafka.NewProducer(brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Warn("Kafka生产者初始化失败，事件发布禁用", zap.Error(err))
			return &kafka.Producer{}
		}
		return producer
	}); err != nil {
		return err
	}

	// 注册向量化提供商与向量存储
	if err := container.Provide(knowledge.NewEmbedderFromConfig); err != nil {
		return err
	}

	if err := container.Provide(knowledge.NewVectorStoreFromConfig); err != nil {
		return err
	}

	// 注册熔断器
	if err := container.Provide(func(cfg *config.Config) *services.CircuitBreaker {
		return services.NewCircuitBreaker(
			"embedding_upstream",
			cfg.Embedding.Breaker.FailureThreshold,
			cfg.Embedding.Breaker.SuccessThreshold,
			cfg.Embedding.Breaker.RecoveryTimeout,
		)
	}); err != nil {
		return err
	}

	// 注册操作记录器
	if err := container.Provide(services.NewOperationRecorder); err != nil {
		return err
	}

	// 注册向量缓存
	if err := container.Provide(func(client *redis.Client, cfg *config.Config) *services.EmbeddingCache {
		return services.NewEmbeddingCache(client, cfg.Embedding.CacheEnabled, cfg.Embedding.CacheTTL)
	}); err != nil {
		return err
	}

	// 注册服务
	if err := container.Provide(services.NewTokenCounter); err != nil {
		return err
	}

	if err := container.Provide(services.NewContextAssembler); err != nil {
		return err
	}

	if err := container.Provide(services.NewEmbeddingService); err != nil {
		return err
	}

	if err := container.Provide(services.NewRetrievalService); err != nil {
		return err
	}

	return nil
}
