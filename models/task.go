package models

import (
	"time"
)

// Task statuses. One Task drives exactly one pipeline run and is never
// restarted in place.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task is the persisted record for one video-generation request. Owned
// exclusively by the task manager; nothing else writes it.
type Task struct {
	ID        string    `gorm:"primaryKey;size:36" json:"task_id"`
	Status    string    `gorm:"default:'pending';index" json:"status"`
	Request   string    `gorm:"type:text" json:"-"` // original request params, JSON
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	ErrorKind string    `gorm:"size:64" json:"error_kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Result fields, populated only on completion.
	VideoPath       string  `json:"video_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64   `json:"file_size_bytes,omitempty"`
	ShotCount       int     `json:"shot_count,omitempty"`
}

func (Task) TableName() string {
	return "video_tasks"
}

// Result returns the task's VideoResult, or nil if the task has not
// completed.
func (t *Task) Result() *VideoResult {
	if t.Status != TaskCompleted {
		return nil
	}
	return &VideoResult{
		VideoPath:       t.VideoPath,
		DurationSeconds: t.DurationSeconds,
		FileSizeBytes:   t.FileSizeBytes,
		ShotCount:       t.ShotCount,
	}
}

// VideoResult is produced once by the assembler and referenced by the task
// record. Immutable after creation.
type VideoResult struct {
	VideoPath       string  `json:"video_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
	ShotCount       int     `json:"shot_count"`
}
