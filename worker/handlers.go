package worker

import (
	"context"
	"encoding/json"
	"log"

	"github.com/reelsmith/reelsmith-api/manager"
	"github.com/reelsmith/reelsmith-api/tasks"
)

// Handlers binds queue payloads to the task manager.
type Handlers struct {
	Manager *manager.Manager
}

// HandleVideoGenerate processes tasks from QueueVideoGenerate: one queued
// id, one full pipeline run.
func (h *Handlers) HandleVideoGenerate(ctx context.Context, payload string) error {
	var task tasks.GeneratePayload
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return err
	}

	log.Printf("Processing video task %s", task.TaskID)
	return h.Manager.Run(ctx, task.TaskID)
}
