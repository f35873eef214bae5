package scheduler

import (
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/workflow"
)

// SceneError records one job that exhausted its retries or hit a fatal
// error, with enough detail to diagnose which external dependency failed.
type SceneError struct {
	SceneIndex int
	Kind       workflow.Kind
	Attempts   int
	BackendRef string
	Err        error
}

func (e SceneError) Error() string {
	ref := e.BackendRef
	if ref == "" {
		ref = "never submitted"
	}
	return fmt.Sprintf("scene %d %s job failed after %d attempt(s) (ref %s): %v",
		e.SceneIndex, e.Kind, e.Attempts, ref, e.Err)
}

func (e SceneError) Unwrap() error { return e.Err }

// RunError aggregates every contributing scene failure of a scheduler run,
// enumerated in ascending scene order.
type RunError struct {
	Scenes []SceneError
}

func (e *RunError) Error() string {
	parts := make([]string, len(e.Scenes))
	for i, se := range e.Scenes {
		parts[i] = se.Error()
	}
	return fmt.Sprintf("%d generation job(s) failed: %s", len(e.Scenes), strings.Join(parts, "; "))
}

// Unwrap exposes the scene errors so errors.As reaches the underlying
// failure kinds.
func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Scenes))
	for i, se := range e.Scenes {
		errs[i] = se
	}
	return errs
}

// Cancelled reports whether the run failed because the caller aborted it.
func (e *RunError) Cancelled() bool {
	for _, se := range e.Scenes {
		if failure.Is(se.Err, failure.Cancelled) {
			return true
		}
	}
	return false
}

// FailedScenes returns the distinct failed scene indices, ascending.
func (e *RunError) FailedScenes() []int {
	seen := map[int]bool{}
	var out []int
	for _, se := range e.Scenes {
		if !seen[se.SceneIndex] {
			seen[se.SceneIndex] = true
			out = append(out, se.SceneIndex)
		}
	}
	return out
}
