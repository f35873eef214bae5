package main

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/internal/platform"
	"github.com/reelsmith/reelsmith-api/models"
)

// Maintenance daemon: expires tasks that died mid-run and prunes old task
// output directories. Run a single instance.

const staleRunningAge = 6 * time.Hour
const artifactRetention = 14 * 24 * time.Hour

func main() {
	cfg := loadConfig()
	db := platform.NewDBConnection()

	c := cron.New()

	if _, err := c.AddFunc("@every 15m", func() { expireStaleTasks(db) }); err != nil {
		log.Fatalf("Error scheduling stale-task sweep: %v", err)
	}
	if _, err := c.AddFunc("@daily", func() { pruneArtifacts(db, cfg.Paths.Output) }); err != nil {
		log.Fatalf("Error scheduling artifact prune: %v", err)
	}

	c.Start()
	defer c.Stop()

	log.Println("Scheduler started, running maintenance jobs...")
	// Keep the main thread alive
	select {}
}

// expireStaleTasks fails running tasks whose process evidently died. A live
// pipeline updates its record on completion; a record stuck in running for
// hours has no owner anymore.
func expireStaleTasks(db *gorm.DB) {
	cutoff := time.Now().Add(-staleRunningAge)
	res := db.Model(&models.Task{}).
		Where("status = ? AND updated_at < ?", models.TaskRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     models.TaskFailed,
			"error":      "task abandoned: no status update for over 6h",
			"error_kind": "internal_error",
		})
	if res.Error != nil {
		log.Printf("Error expiring stale tasks: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("Expired %d stale running task(s)", res.RowsAffected)
	}
}

// pruneArtifacts removes output directories of terminal tasks older than the
// retention window. The task records stay for audit.
func pruneArtifacts(db *gorm.DB, outputDir string) {
	cutoff := time.Now().Add(-artifactRetention)

	var old []models.Task
	err := db.Where("status IN ? AND updated_at < ?",
		[]string{models.TaskCompleted, models.TaskFailed}, cutoff).
		Find(&old).Error
	if err != nil {
		log.Printf("Error querying old tasks: %v", err)
		return
	}

	for _, t := range old {
		dir := filepath.Join(outputDir, t.ID)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Error pruning artifacts for task %s: %v", t.ID, err)
			continue
		}
		log.Printf("Pruned artifacts for task %s", t.ID)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default()
		}
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
