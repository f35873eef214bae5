package main

import (
	"context"
	"log"
	"os"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/reelsmith/reelsmith-api/assembler"
	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/internal/platform"
	"github.com/reelsmith/reelsmith-api/manager"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/planner"
	"github.com/reelsmith/reelsmith-api/scheduler"
	"github.com/reelsmith/reelsmith-api/tasks"
	"github.com/reelsmith/reelsmith-api/worker"
	"github.com/reelsmith/reelsmith-api/workflow"
)

func main() {
	cfg := loadConfig()

	// Use the shared initializers
	db := platform.NewDBConnection()
	rdb := platform.NewRedisClient()
	ctx := context.Background()

	if err := db.AutoMigrate(&models.Task{}); err != nil {
		log.Fatalf("Failed to migrate task table: %v", err)
	}

	mgr := buildManager(cfg, db, rdb)

	// Listen for cancels aimed at pipelines this worker owns.
	go mgr.ListenForCancels(ctx)

	handlers := &worker.Handlers{Manager: mgr}
	processor := worker.NewProcessor(rdb)
	processor.Register(tasks.QueueVideoGenerate, handlers.HandleVideoGenerate)

	log.Println("Worker started, waiting for queue tasks...")
	processor.Listen(ctx, tasks.QueueVideoGenerate)
}

// buildManager wires the pipeline stages behind the task manager.
func buildManager(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *manager.Manager {
	router := &workflow.Router{
		Local: workflow.NewLocalBackend(cfg.Backends.Local, cfg.Paths.Workflows),
		Cloud: workflow.NewCloudBackend(cfg.Backends.Cloud, cfg.Paths.Workflows),
	}
	sched := scheduler.New(
		router,
		scheduler.NewLimiter(cfg.Scheduler.ConcurrencyLimit),
		scheduler.PolicyFromConfig(cfg.Scheduler),
	)
	return manager.New(
		manager.NewGormStore(db),
		rdb,
		planner.New(cfg.Planner),
		sched,
		assembler.New(),
		cfg,
	)
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config file at %s, using defaults", path)
			return config.Default()
		}
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
