package tasks

import "encoding/json"

// ---
// QUEUE DEFINITIONS
// ---
const (
	// QueueVideoGenerate carries async video-generation tasks to the worker.
	QueueVideoGenerate = "q_video_generate"

	// ChannelTaskCancelled broadcasts caller-initiated cancels to whichever
	// process owns the running pipeline.
	ChannelTaskCancelled = "task_cancelled"
)

// ---
// TASK PAYLOADS
// ---

// GeneratePayload is the payload for QueueVideoGenerate. The full request
// lives on the task record; the queue only moves the id.
type GeneratePayload struct {
	TaskID string `json:"task_id"`
}

// CancelMessage is published on ChannelTaskCancelled.
type CancelMessage struct {
	TaskID string `json:"task_id"`
}

// Marshal creates a JSON payload for a task.
func Marshal(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
