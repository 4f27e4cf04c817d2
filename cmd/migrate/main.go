package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/database"
)

func main() {
	var (
		action  = flag.String("action", "up", "Migration action: up, down, version, status, goto, force, create")
		version = flag.Int("version", 0, "Target version for goto/force")
		name    = flag.String("name", "", "Migration name for create")
		path    = flag.String("path", "./migrations", "Migration files directory")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	factory := database.NewMigrationManagerFactory(*path, logger)

	// create不需要数据库连接
	if *action == "create" {
		if *name == "" {
			log.Fatal("Name must be specified for create action")
		}
		upFile, downFile, err := database.CreateMigrationFile(factory.GetMigrationPath(), *name)
		if err != nil {
			log.Fatalf("Failed to create migration files: %v", err)
		}
		fmt.Println("Created:", upFile)
		fmt.Println("Created:", downFile)
		return
	}

	// 加载.env（缺失时忽略）
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GetAppConfig()

	db, err := database.OpenMigrationDB(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrationManager, err := factory.CreateManager(db)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}
	defer migrationManager.Close()

	switch *action {
	case "up":
		fmt.Println("Running migrations up...")
		if err := migrationManager.Up(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Println("Migrations completed successfully")

	case "down":
		fmt.Println("Rolling back last migration...")
		if err := migrationManager.Down(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("Rollback completed successfully")

	case "version":
		version, dirty, err := migrationManager.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d", version)
		if dirty {
			fmt.Printf(" (dirty)")
		}
		fmt.Println()

	case "status":
		version, dirty, err := migrationManager.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d", version)
		if dirty {
			fmt.Printf(" (dirty - manual intervention required)")
		}
		fmt.Println()

		pending, err := migrationManager.Pending()
		if err != nil {
			log.Fatalf("Failed to check pending migrations: %v", err)
		}
		if pending {
			fmt.Println("Status: Pending migrations available")
		} else {
			fmt.Println("Status: All migrations applied")
		}

	case "goto":
		if *version <= 0 {
			log.Fatal("Version must be specified for goto action")
		}
		fmt.Printf("Migrating to version %d...\n", *version)
		if err := migrationManager.UpTo(uint(*version)); err != nil {
			log.Fatalf("Migration to version %d failed: %v", *version, err)
		}
		fmt.Printf("Successfully migrated to version %d\n", *version)

	case "force":
		if *version <= 0 {
			log.Fatal("Version must be specified for force action")
		}
		if err := migrationManager.ForceVersion(uint(*version)); err != nil {
			log.Fatalf("Force version failed: %v", err)
		}
		fmt.Printf("Forced version to %d\n", *version)

	default:
		fmt.Printf("Unknown action: %s\n", *action)
		fmt.Println("Available actions: up, down, version, status, goto, force, create")
		os.Exit(1)
	}
}
