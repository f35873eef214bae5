package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/workflow"
)

// fakeClient is an in-memory workflow backend. Each submitted job succeeds
// after pollsNeeded polls unless plan returns an error for it. plan is keyed
// by the job's kind and scene text and is consulted once per attempt.
type fakeClient struct {
	mu          sync.Mutex
	jobs        map[string]*fakeJob
	attempts    map[string]int
	seq         int
	inFlight    int
	maxInFlight int
	submits     map[workflow.Kind]int

	pollsNeeded func(kind workflow.Kind, text string) int
	plan        func(kind workflow.Kind, text string, attempt int) error

	seenParams []map[string]string
}

type fakeJob struct {
	kind   workflow.Kind
	text   string
	polls  int
	needed int
	failed error
	done   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		jobs:     make(map[string]*fakeJob),
		attempts: make(map[string]int),
		submits:  make(map[workflow.Kind]int),
	}
}

func jobText(kind workflow.Kind, params map[string]string) string {
	if kind == workflow.KindTTS {
		return params["text"]
	}
	return params["prompt"]
}

func (f *fakeClient) Submit(ctx context.Context, workflowID string, kind workflow.Kind, params map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	text := jobText(kind, params)
	key := string(kind) + "|" + text
	f.attempts[key]++
	f.seenParams = append(f.seenParams, params)

	var planned error
	if f.plan != nil {
		planned = f.plan(kind, text, f.attempts[key])
	}
	var fe *failure.Error
	if errors.As(planned, &fe) && fe.Fatal {
		return "", planned
	}

	f.seq++
	ref := fmt.Sprintf("job-%d", f.seq)
	needed := 1
	if f.pollsNeeded != nil {
		needed = f.pollsNeeded(kind, text)
	}
	f.jobs[ref] = &fakeJob{kind: kind, text: text, needed: needed, failed: planned}
	f.submits[kind]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	return ref, nil
}

func (f *fakeClient) Poll(ctx context.Context, ref string) (workflow.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[ref]
	if !ok {
		return workflow.PollResult{}, failure.New(failure.Submission, "unknown job %s", ref)
	}
	job.polls++
	if job.polls < job.needed {
		return workflow.PollResult{Status: workflow.StatusPending}, nil
	}
	f.settle(job)
	if job.failed != nil {
		return workflow.PollResult{Status: workflow.StatusFailed, Message: job.failed.Error()}, nil
	}
	return workflow.PollResult{Status: workflow.StatusSucceeded, ArtifactRef: ref}, nil
}

func (f *fakeClient) settle(job *fakeJob) {
	if !job.done {
		job.done = true
		f.inFlight--
	}
}

func (f *fakeClient) Fetch(ctx context.Context, artifactRef, destDir string) (string, error) {
	f.mu.Lock()
	job, ok := f.jobs[artifactRef]
	f.mu.Unlock()
	if !ok {
		return "", failure.New(failure.Artifact, "unknown artifact %s", artifactRef)
	}
	path := filepath.Join(destDir, artifactRef+".dat")
	if err := os.WriteFile(path, []byte(job.text), 0644); err != nil {
		return "", failure.Wrap(failure.Artifact, err, "write artifact")
	}
	return path, nil
}

func (f *fakeClient) Cancel(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[ref]; ok {
		f.settle(job)
	}
	return nil
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 4 * time.Millisecond,
		PollInterval:    time.Millisecond,
		PollIntervalMax: 2 * time.Millisecond,
	}
}

func makeScenes(n int) []models.Scene {
	scenes := make([]models.Scene, n)
	for i := range scenes {
		scenes[i] = models.Scene{Index: i, Text: fmt.Sprintf("scene %d text", i)}
	}
	return scenes
}

func baseRequest(t *testing.T, n int) Request {
	t.Helper()
	return Request{
		Scenes:        makeScenes(n),
		MediaKind:     workflow.KindImage,
		MediaWorkflow: "local/flux_image",
		TTSWorkflow:   "local/tts_default",
		OutputDir:     t.TempDir(),
	}
}

func TestRun_CollectsArtifactsInOrdinalOrder(t *testing.T) {
	client := newFakeClient()
	// Earlier scenes finish last: completion order is the reverse of
	// submission order, so collection must not depend on it.
	client.pollsNeeded = func(kind workflow.Kind, text string) int {
		var idx int
		fmt.Sscanf(text, "scene %d", &idx)
		return 5 - idx
	}

	sched := New(client, NewLimiter(4), fastPolicy())
	req := baseRequest(t, 5)

	artifacts, err := sched.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artifacts) != 5 {
		t.Fatalf("expected 5 bundles, got %d", len(artifacts))
	}
	for i, a := range artifacts {
		if a.Index != i {
			t.Fatalf("bundle %d has ordinal %d", i, a.Index)
		}
		if a.Narration == "" || a.Visual == "" {
			t.Fatalf("bundle %d incomplete: %+v", i, a)
		}
		// The fake writes the source scene text into each artifact, so a
		// mixed-up bundle is detectable by content.
		content, readErr := os.ReadFile(a.Narration)
		if readErr != nil {
			t.Fatalf("read narration %d: %v", i, readErr)
		}
		if string(content) != req.Scenes[i].Text {
			t.Fatalf("bundle %d holds artifact for %q", i, content)
		}
		if !strings.Contains(filepath.Base(a.Narration), fmt.Sprintf("%02d_tts", i)) {
			t.Fatalf("narration %d has unstable name %s", i, a.Narration)
		}
	}
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	client := newFakeClient()
	client.pollsNeeded = func(kind workflow.Kind, text string) int { return 3 }

	limit := 2
	sched := New(client, NewLimiter(limit), fastPolicy())

	if _, err := sched.Run(context.Background(), baseRequest(t, 6)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.maxInFlight > limit {
		t.Fatalf("observed %d jobs in flight, limit is %d", client.maxInFlight, limit)
	}
	if client.submits[workflow.KindTTS] != 6 || client.submits[workflow.KindImage] != 6 {
		t.Fatalf("expected 6 jobs per kind, got %+v", client.submits)
	}
}

func TestRun_SerialWithLimitOne(t *testing.T) {
	client := newFakeClient()
	sched := New(client, NewLimiter(1), fastPolicy())

	req := baseRequest(t, 3)
	req.MediaKind = workflow.KindVideo
	req.MediaWorkflow = "local/svd_video"

	if _, err := sched.Run(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.maxInFlight != 1 {
		t.Fatalf("limit 1 run reached %d concurrent jobs", client.maxInFlight)
	}
	total := client.submits[workflow.KindTTS] + client.submits[workflow.KindVideo]
	if total != 6 {
		t.Fatalf("expected 6 submissions, got %d", total)
	}
}

func TestRun_StaticTemplateSubmitsNoMediaJobs(t *testing.T) {
	client := newFakeClient()
	sched := New(client, NewLimiter(2), fastPolicy())

	req := baseRequest(t, 4)
	req.MediaKind = ""
	req.MediaWorkflow = ""

	artifacts, err := sched.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.submits[workflow.KindTTS] != 4 {
		t.Fatalf("expected 4 tts jobs, got %d", client.submits[workflow.KindTTS])
	}
	if client.submits[workflow.KindImage] != 0 || client.submits[workflow.KindVideo] != 0 {
		t.Fatalf("static run submitted media jobs: %+v", client.submits)
	}
	for i, a := range artifacts {
		if a.Visual != "" {
			t.Fatalf("bundle %d has a visual for a static template", i)
		}
		if a.Narration == "" {
			t.Fatalf("bundle %d missing narration", i)
		}
	}
}

func TestRun_PromptPrefixAndReferenceAudio(t *testing.T) {
	client := newFakeClient()
	sched := New(client, NewLimiter(2), fastPolicy())

	req := baseRequest(t, 2)
	req.PromptPrefix = "cinematic, 4k"
	req.ReferenceAudio = "voices/narrator.wav"

	if _, err := sched.Run(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var media, tts int
	for _, params := range client.seenParams {
		if prompt, ok := params["prompt"]; ok {
			media++
			if !strings.HasPrefix(prompt, "cinematic, 4k, scene ") {
				t.Fatalf("media prompt missing prefix: %q", prompt)
			}
		}
		if _, ok := params["text"]; ok {
			tts++
			if params["reference_audio"] != "voices/narrator.wav" {
				t.Fatalf("tts job missing reference audio: %v", params)
			}
		}
	}
	if media != 2 || tts != 2 {
		t.Fatalf("expected 2 media and 2 tts submissions, got %d and %d", media, tts)
	}
}

func TestRun_TransientFailureRetriesThenSucceeds(t *testing.T) {
	client := newFakeClient()
	client.plan = func(kind workflow.Kind, text string, attempt int) error {
		if kind == workflow.KindTTS && strings.HasPrefix(text, "scene 1") && attempt < 3 {
			return failure.New(failure.Submission, "backend hiccup")
		}
		return nil
	}

	sched := New(client, NewLimiter(2), fastPolicy())
	if _, err := sched.Run(context.Background(), baseRequest(t, 3)); err != nil {
		t.Fatalf("expected recovery within max attempts, got %v", err)
	}
	if got := client.attempts["tts|scene 1 text"]; got != 3 {
		t.Fatalf("expected 3 attempts for the flaky job, got %d", got)
	}
}

func TestRun_ExhaustedRetriesFailTheRun(t *testing.T) {
	client := newFakeClient()
	client.plan = func(kind workflow.Kind, text string, attempt int) error {
		if kind == workflow.KindImage && strings.HasPrefix(text, "scene 2") {
			return failure.New(failure.Submission, "backend down")
		}
		return nil
	}

	sched := New(client, NewLimiter(4), fastPolicy())
	_, err := sched.Run(context.Background(), baseRequest(t, 4))
	if err == nil {
		t.Fatal("expected run to fail")
	}

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T: %v", err, err)
	}
	failed := runErr.FailedScenes()
	found := false
	for _, idx := range failed {
		if idx == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("failed scenes %v do not include scene 2", failed)
	}
	for _, se := range runErr.Scenes {
		if se.SceneIndex == 2 && se.Kind == workflow.KindImage {
			if se.Attempts != 3 {
				t.Fatalf("expected 3 attempts recorded, got %d", se.Attempts)
			}
			return
		}
	}
	t.Fatalf("run error does not name the failing job: %v", runErr)
}

func TestRun_FatalFailureStopsNewSubmissions(t *testing.T) {
	client := newFakeClient()
	client.plan = func(kind workflow.Kind, text string, attempt int) error {
		return failure.Fatalf(failure.Submission, "workflow graph is malformed")
	}

	// Limit 1 serializes submissions, so exactly one reaches the backend
	// before the abort flag stops the rest.
	sched := New(client, NewLimiter(1), fastPolicy())
	_, err := sched.Run(context.Background(), baseRequest(t, 5))
	if err == nil {
		t.Fatal("expected run to fail")
	}
	total := 0
	for _, n := range client.attempts {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected exactly 1 submission before abort, got %d", total)
	}

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T", err)
	}
	if len(runErr.Scenes) != 1 {
		t.Fatalf("expected 1 failed job, got %d", len(runErr.Scenes))
	}
	if failure.Retryable(runErr.Scenes[0].Err) {
		t.Fatal("fatal error must not be classified retryable")
	}
}

func TestRun_CancelReleasesAllSlots(t *testing.T) {
	client := newFakeClient()
	client.pollsNeeded = func(kind workflow.Kind, text string) int { return 1 << 30 }

	limiter := NewLimiter(2)
	sched := New(client, limiter, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(ctx, baseRequest(t, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancelled run to fail")
		}
		var runErr *RunError
		if !errors.As(err, &runErr) {
			t.Fatalf("expected *RunError, got %T: %v", err, err)
		}
		if !runErr.Cancelled() {
			t.Fatalf("expected a cancelled run error, got %v", runErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if limiter.InUse() != 0 {
		t.Fatalf("%d limiter slots leaked after cancel", limiter.InUse())
	}
}

func TestRun_NoScenes(t *testing.T) {
	sched := New(newFakeClient(), NewLimiter(1), fastPolicy())
	_, err := sched.Run(context.Background(), Request{OutputDir: t.TempDir()})
	if !failure.Is(err, failure.InvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	sched := New(newFakeClient(), NewLimiter(1), Policy{
		MaxAttempts:     5,
		RetryBackoff:    2 * time.Second,
		RetryBackoffMax: 30 * time.Second,
	})
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := sched.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
