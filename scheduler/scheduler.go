package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/workflow"
)

// Policy holds the retry and polling tunables. Defaults are conservative;
// see config.SchedulerConfig.
type Policy struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	PollInterval    time.Duration
	PollIntervalMax time.Duration
}

func PolicyFromConfig(cfg config.SchedulerConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		PollInterval:    cfg.PollInterval,
		PollIntervalMax: cfg.PollIntervalMax,
	}
}

// Scheduler fans per-scene generation jobs out to a workflow backend under a
// shared concurrency budget and collects artifacts keyed by scene ordinal.
type Scheduler struct {
	client  workflow.Client
	limiter *Limiter
	policy  Policy
}

func New(client workflow.Client, limiter *Limiter, policy Policy) *Scheduler {
	return &Scheduler{client: client, limiter: limiter, policy: policy}
}

// Request describes one scheduling run. MediaKind is empty when the frame
// template is static — the scheduler then submits no image/video jobs at
// all. The template-to-kind mapping is resolved by the caller before
// scheduling begins, never inferred mid-pipeline.
type Request struct {
	Scenes         []models.Scene
	MediaKind      workflow.Kind
	MediaWorkflow  string
	TTSWorkflow    string
	PromptPrefix   string
	ReferenceAudio string
	OutputDir      string
}

// Run drives every job to a terminal state and returns one artifact bundle
// per scene, in ordinal order. On failure it returns a *RunError
// enumerating every contributing scene, ascending.
func (s *Scheduler) Run(ctx context.Context, req Request) ([]models.SceneArtifacts, error) {
	jobs := s.buildJobs(req)
	if len(jobs) == 0 {
		return nil, failure.New(failure.InvalidRequest, "no scenes to schedule")
	}

	sceneDir := filepath.Join(req.OutputDir, "scenes")
	if err := os.MkdirAll(sceneDir, 0755); err != nil {
		return nil, fmt.Errorf("create scene dir: %w", err)
	}

	// aborted stops new submissions after the first fatal failure while
	// in-flight jobs run to completion, so no backend work is orphaned.
	var aborted atomic.Bool
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			s.runJob(ctx, job, sceneDir, &aborted)
		}(job)
	}
	wg.Wait()

	var failures []SceneError
	for _, job := range jobs {
		if job.State == JobFailed {
			failures = append(failures, SceneError{
				SceneIndex: job.SceneIndex,
				Kind:       job.Kind,
				Attempts:   job.Attempts,
				BackendRef: job.BackendRef,
				Err:        job.LastErr,
			})
		}
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool {
			if failures[i].SceneIndex != failures[j].SceneIndex {
				return failures[i].SceneIndex < failures[j].SceneIndex
			}
			return failures[i].Kind < failures[j].Kind
		})
		return nil, &RunError{Scenes: failures}
	}

	// All jobs succeeded (skips only happen after a failure): materialize
	// the per-scene bundles in ordinal order.
	artifacts := make([]models.SceneArtifacts, len(req.Scenes))
	for i := range req.Scenes {
		artifacts[i] = models.SceneArtifacts{Index: i}
	}
	for _, job := range jobs {
		switch job.Kind {
		case workflow.KindTTS:
			artifacts[job.SceneIndex].Narration = job.ArtifactPath
		default:
			artifacts[job.SceneIndex].Visual = job.ArtifactPath
		}
	}
	return artifacts, nil
}

// buildJobs creates one TTS job per scene, plus one media job per scene
// unless the template needs none.
func (s *Scheduler) buildJobs(req Request) []*Job {
	var jobs []*Job
	for _, scene := range req.Scenes {
		ttsParams := map[string]string{"text": scene.Text}
		if req.ReferenceAudio != "" {
			ttsParams["reference_audio"] = req.ReferenceAudio
		}
		jobs = append(jobs, &Job{
			SceneIndex: scene.Index,
			Kind:       workflow.KindTTS,
			WorkflowID: req.TTSWorkflow,
			Params:     ttsParams,
			State:      JobCreated,
		})

		if req.MediaKind == "" {
			continue
		}
		prompt := scene.Text
		if req.PromptPrefix != "" {
			prompt = req.PromptPrefix + ", " + prompt
		}
		jobs = append(jobs, &Job{
			SceneIndex: scene.Index,
			Kind:       req.MediaKind,
			WorkflowID: req.MediaWorkflow,
			Params:     map[string]string{"prompt": prompt},
			State:      JobCreated,
		})
	}
	return jobs
}

// runJob owns one job's submit→poll→retry lifecycle. The limiter slot is
// held for exactly the submitted-or-polling window of each attempt and is
// released on every exit path.
func (s *Scheduler) runJob(ctx context.Context, job *Job, sceneDir string, aborted *atomic.Bool) {
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if aborted.Load() {
			job.State = JobSkipped
			return
		}
		if err := s.limiter.Acquire(ctx); err != nil {
			job.State = JobFailed
			job.LastErr = failure.Wrap(failure.Cancelled, err, "task aborted before submission")
			return
		}
		// Re-check after a potentially long wait for a slot.
		if aborted.Load() {
			s.limiter.Release()
			job.State = JobSkipped
			return
		}

		job.Attempts = attempt
		err := s.attempt(ctx, job, sceneDir)

		if err == nil {
			job.State = JobSucceeded
			s.limiter.Release()
			return
		}
		job.LastErr = err

		if failure.Is(err, failure.Cancelled) {
			job.State = JobFailed
			s.limiter.Release()
			return
		}
		if !failure.Retryable(err) || attempt == s.policy.MaxAttempts {
			// Flag the abort before freeing the slot so the next job to
			// acquire it observes the flag and skips.
			job.State = JobFailed
			aborted.Store(true)
			s.limiter.Release()
			return
		}
		s.limiter.Release()

		job.State = JobRetrying
		backoff := s.backoff(attempt)
		log.Printf("Scene %d %s job attempt %d failed, retrying in %s: %v",
			job.SceneIndex, job.Kind, attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			job.State = JobFailed
			job.LastErr = failure.Wrap(failure.Cancelled, ctx.Err(), "task aborted during retry wait")
			return
		}
	}
}

// attempt performs one submit→poll→fetch pass.
func (s *Scheduler) attempt(ctx context.Context, job *Job, sceneDir string) error {
	job.State = JobSubmitted
	ref, err := s.client.Submit(ctx, job.WorkflowID, job.Kind, job.Params)
	if err != nil {
		if ctx.Err() != nil {
			return failure.Wrap(failure.Cancelled, ctx.Err(), "task aborted during submit")
		}
		return err
	}
	job.BackendRef = ref
	job.State = JobPolling

	interval := s.policy.PollInterval
	for {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			s.cancelBackend(ref)
			return failure.Wrap(failure.Cancelled, ctx.Err(), "task aborted while polling")
		}

		res, err := s.client.Poll(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				s.cancelBackend(ref)
				return failure.Wrap(failure.Cancelled, ctx.Err(), "task aborted while polling")
			}
			return err
		}

		switch res.Status {
		case workflow.StatusPending:
			if interval *= 2; interval > s.policy.PollIntervalMax {
				interval = s.policy.PollIntervalMax
			}
		case workflow.StatusFailed:
			return failure.New(failure.Submission, "backend job failed: %s", res.Message)
		case workflow.StatusSucceeded:
			path, err := s.client.Fetch(ctx, res.ArtifactRef, sceneDir)
			if err != nil {
				return err
			}
			job.ArtifactPath = renameSceneArtifact(path, job.SceneIndex, job.Kind)
			return nil
		}
	}
}

// backoff returns the wait before retry n+1: the base interval doubled per
// prior attempt, capped at the configured max.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.policy.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.policy.RetryBackoffMax {
			return s.policy.RetryBackoffMax
		}
	}
	return d
}

// cancelBackend is best-effort; the run context is already cancelled, so a
// short background context carries the cancel call.
func (s *Scheduler) cancelBackend(ref string) {
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Cancel(cctx, ref); err != nil {
		log.Printf("Cancel of backend job %s failed: %v", ref, err)
	}
}

// renameSceneArtifact gives downloaded artifacts stable names like
// 03_tts.mp3 so the output dir reads in scene order.
func renameSceneArtifact(path string, sceneIndex int, kind workflow.Kind) string {
	dir := filepath.Dir(path)
	named := filepath.Join(dir, fmt.Sprintf("%02d_%s%s", sceneIndex, kind, filepath.Ext(path)))
	if named == path {
		return path
	}
	if err := os.Rename(path, named); err != nil {
		log.Printf("Could not rename artifact %s: %v", path, err)
		return path
	}
	return named
}
