// main.go
package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/reelsmith/reelsmith-api/assembler"
	"github.com/reelsmith/reelsmith-api/auth"
	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/internal/platform"
	"github.com/reelsmith/reelsmith-api/manager"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/planner"
	"github.com/reelsmith/reelsmith-api/scheduler"
	"github.com/reelsmith/reelsmith-api/videos"
	"github.com/reelsmith/reelsmith-api/workflow"
)

type Server struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Router  *gin.Engine
	Manager *manager.Manager
}

func NewServer() (*Server, error) {
	cfg := loadConfig()

	// Use the shared connection initializers
	db := platform.NewDBConnection()
	rdb := platform.NewRedisClient()

	if err := db.AutoMigrate(&models.Task{}); err != nil {
		log.Fatalf("Failed to migrate task table: %v", err)
	}

	mgr := buildManager(cfg, db, rdb)

	router := gin.Default()

	server := &Server{
		DB:      db,
		Redis:   rdb,
		Router:  router,
		Manager: mgr,
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
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

func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.Router.GET("/health", func(c *gin.Context) {
		sqlDB, err := s.DB.DB()
		if err != nil {
			c.JSON(500, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(500, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{
			"status":   "healthy",
			"database": "connected",
		})
	})

	s.Router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "Reelsmith API v1"})
	})

	// Auth routes (public)
	authHandler := auth.NewHandler()
	s.Router.POST("/auth/token", authHandler.IssueToken)

	// Protected routes that require authentication
	videoHandler := videos.NewHandler(s.Manager)
	protected := s.Router.Group("")
	protected.Use(auth.AuthMiddleware())
	{
		videoRoutes := protected.Group("/videos")
		{
			videoRoutes.POST("", videoHandler.CreateVideo)
			videoRoutes.POST("/sync", videoHandler.CreateVideoSync)
			videoRoutes.GET("/:id", videoHandler.GetVideo)
			videoRoutes.POST("/:id/cancel", videoHandler.CancelVideo)
		}
	}
}

func (s *Server) Run() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	return s.Router.Run(":" + port)
}

func main() {
	server, err := NewServer()
	if err != nil {
		log.Fatal("Failed to create server:", err)
	}

	// Sync tasks run in this process; listen so cancels reach them.
	go server.Manager.ListenForCancels(context.Background())

	if err := server.Run(); err != nil {
		log.Fatal("Failed to run server:", err)
	}
}
