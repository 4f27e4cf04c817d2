package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/database"
	"github.com/aihub/retrieval-go/internal/di"
	"github.com/aihub/retrieval-go/internal/kafka"
	"github.com/aihub/retrieval-go/internal/logger"
	"github.com/aihub/retrieval-go/internal/services"
)

func main() {
	var (
		queryText     = flag.String("query", "", "Query text to retrieve against")
		kbID          = flag.Uint("kb", 0, "Knowledge base ID")
		threshold     = flag.Float64("threshold", 0, "Similarity threshold override")
		limit         = flag.Int("limit", 0, "Max chunks override")
		budget        = flag.Int("budget", 0, "Token budget override")
		correlationID = flag.String("correlation-id", "", "Correlation ID, generated when empty")
	)
	flag.Parse()

	if *queryText == "" || *kbID == 0 {
		fmt.Fprintln(os.Stderr, "Usage: retrieval -query <text> -kb <id> [-threshold x] [-limit n] [-budget n]")
		os.Exit(2)
	}

	// 加载.env（缺失时忽略）
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// 初始化结构化日志
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 加载配置
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 构建依赖注入容器
	container, err := di.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	query := &services.RetrievalQuery{
		Text:            *queryText,
		KnowledgeBaseID: *kbID,
		CorrelationID:   *correlationID,
	}
	// 只有显式传入的flag才覆盖配置默认值
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			query.Threshold = threshold
		case "limit":
			query.MaxChunks = limit
		case "budget":
			query.TokenBudget = budget
		}
	})

	err = container.Invoke(func(
		svc *services.RetrievalService,
		wrapper *database.DatabaseWrapper,
		producer *kafka.Producer,
	) error {
		defer database.CloseDB()
		defer database.CloseRedis()
		defer producer.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		wrapper.StartMonitoring(ctx)
		if err := wrapper.HealthCheck(); err != nil {
			return fmt.Errorf("database not healthy: %w", err)
		}

		logger.Info("🚀 Running retrieval",
			zap.Uint("knowledge_base_id", query.KnowledgeBaseID),
			zap.Int("query_length", len(query.Text)))

		result, err := svc.Retrieve(ctx, query)
		if err != nil {
			return err
		}

		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	})
	if err != nil {
		log.Fatalf("Retrieval failed: %v", err)
	}
}
