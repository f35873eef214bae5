package scheduler

import (
	"github.com/reelsmith/reelsmith-api/workflow"
)

// Job states. Lifecycle:
//
//	created → submitted → polling → succeeded
//	                              → failed_retryable → submitted (up to max attempts)
//	                              → failed_fatal
//
// Jobs skipped because an earlier failure aborted the run never leave
// created.
const (
	JobCreated   = "created"
	JobSubmitted = "submitted"
	JobPolling   = "polling"
	JobSucceeded = "succeeded"
	JobRetrying  = "failed_retryable"
	JobFailed    = "failed_fatal"
	JobSkipped   = "skipped"
)

// Job is one generation unit: one kind for one scene. A single scheduler run
// owns each job; nothing else mutates it. The job record is discarded once
// the scene's artifacts are handed to assembly — only the artifact survives.
type Job struct {
	SceneIndex int
	Kind       workflow.Kind
	WorkflowID string
	Params     map[string]string

	State        string
	BackendRef   string
	ArtifactPath string
	Attempts     int
	LastErr      error
}
