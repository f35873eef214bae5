package workflow

import (
	"context"
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
)

// Kind identifies what a generation workflow produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindTTS   Kind = "tts"
)

// Status of a submitted generation job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// PollResult is a non-blocking snapshot of a job's state.
type PollResult struct {
	Status      Status
	ArtifactRef string // set once succeeded
	Message     string // backend error detail once failed
}

// Client is the capability set every generation backend exposes. The
// scheduler is backend-agnostic and talks only to this interface.
type Client interface {
	// Submit enqueues a generation request and returns a backend job
	// reference. Never blocks on completion.
	Submit(ctx context.Context, workflowID string, kind Kind, params map[string]string) (string, error)

	// Poll is a non-blocking status check, safe to call repeatedly.
	Poll(ctx context.Context, ref string) (PollResult, error)

	// Fetch materializes a finished job's artifact under destDir and
	// returns the local path.
	Fetch(ctx context.Context, artifactRef, destDir string) (string, error)

	// Cancel is best-effort. Backends that cannot cancel in-flight work
	// report success without effect.
	Cancel(ctx context.Context, ref string) error
}

// Router dispatches per request by workflow identifier: "local/..." goes to
// the local engine, "cloud/..." to the cloud engine. Job and artifact
// references are prefixed with the backend name so later calls route back.
type Router struct {
	Local Client
	Cloud Client
}

func (r *Router) backendFor(name string) (Client, error) {
	switch name {
	case "local":
		if r.Local == nil {
			return nil, failure.Fatalf(failure.Submission, "local backend not configured")
		}
		return r.Local, nil
	case "cloud":
		if r.Cloud == nil {
			return nil, failure.Fatalf(failure.Submission, "cloud backend not configured")
		}
		return r.Cloud, nil
	default:
		return nil, failure.Fatalf(failure.Submission, "unknown backend %q", name)
	}
}

func splitRef(ref string) (backend, rest string, err error) {
	backend, rest, ok := strings.Cut(ref, "|")
	if !ok {
		return "", "", failure.Fatalf(failure.Submission, "malformed backend reference %q", ref)
	}
	return backend, rest, nil
}

func (r *Router) Submit(ctx context.Context, workflowID string, kind Kind, params map[string]string) (string, error) {
	backend, name, ok := strings.Cut(workflowID, "/")
	if !ok {
		return "", failure.Fatalf(failure.Submission, "workflow id %q must be prefixed with a backend (local/ or cloud/)", workflowID)
	}
	client, err := r.backendFor(backend)
	if err != nil {
		return "", err
	}
	ref, err := client.Submit(ctx, name, kind, params)
	if err != nil {
		return "", err
	}
	return backend + "|" + ref, nil
}

func (r *Router) Poll(ctx context.Context, ref string) (PollResult, error) {
	backend, rest, err := splitRef(ref)
	if err != nil {
		return PollResult{}, err
	}
	client, err := r.backendFor(backend)
	if err != nil {
		return PollResult{}, err
	}
	res, err := client.Poll(ctx, rest)
	if err != nil {
		return PollResult{}, err
	}
	if res.ArtifactRef != "" {
		res.ArtifactRef = backend + "|" + res.ArtifactRef
	}
	return res, nil
}

func (r *Router) Fetch(ctx context.Context, artifactRef, destDir string) (string, error) {
	backend, rest, err := splitRef(artifactRef)
	if err != nil {
		return "", err
	}
	client, err := r.backendFor(backend)
	if err != nil {
		return "", err
	}
	return client.Fetch(ctx, rest, destDir)
}

func (r *Router) Cancel(ctx context.Context, ref string) error {
	backend, rest, err := splitRef(ref)
	if err != nil {
		return err
	}
	client, err := r.backendFor(backend)
	if err != nil {
		return err
	}
	return client.Cancel(ctx, rest)
}
