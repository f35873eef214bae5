package manager

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/tasks"
)

// Manager owns task records and runs pipelines behind two execution modes:
// synchronous (block until done, bounded by a timeout) and asynchronous
// (enqueue, poll for status). One task = one pipeline run, never restarted
// in place.
type Manager struct {
	store     TaskStore
	rdb       *redis.Client
	planner   Planner
	scheduler JobScheduler
	assembler MediaAssembler

	outputDir   string
	defaults    config.DefaultsConfig
	syncTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(store TaskStore, rdb *redis.Client, p Planner, s JobScheduler, a MediaAssembler, cfg *config.Config) *Manager {
	return &Manager{
		store:       store,
		rdb:         rdb,
		planner:     p,
		scheduler:   s,
		assembler:   a,
		outputDir:   cfg.Paths.Output,
		defaults:    cfg.Defaults,
		syncTimeout: cfg.Server.SyncTimeout,
		running:     make(map[string]context.CancelFunc),
	}
}

// newTask validates the request, fills defaults and persists a pending
// record.
func (m *Manager) newTask(ctx context.Context, req *models.VideoRequest) (*models.Task, error) {
	m.applyDefaults(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	t := &models.Task{
		ID:      uuid.NewString(),
		Status:  models.TaskPending,
		Request: string(raw),
	}
	if err := m.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) applyDefaults(req *models.VideoRequest) {
	if req.FrameTemplate == "" {
		req.FrameTemplate = m.defaults.FrameTemplate
	}
	if req.MediaWorkflow == "" {
		req.MediaWorkflow = m.defaults.MediaWorkflow
	}
	if req.TTSWorkflow == "" {
		req.TTSWorkflow = m.defaults.TTSWorkflow
	}
}

// Create starts an asynchronous task: the record is persisted pending and
// the id is queued for the worker. Returns immediately with the task id.
func (m *Manager) Create(ctx context.Context, req *models.VideoRequest) (string, error) {
	t, err := m.newTask(ctx, req)
	if err != nil {
		return "", err
	}
	payload, err := tasks.Marshal(tasks.GeneratePayload{TaskID: t.ID})
	if err != nil {
		return "", err
	}
	if err := m.rdb.LPush(ctx, tasks.QueueVideoGenerate, payload).Err(); err != nil {
		t.Status = models.TaskFailed
		t.Error = "failed to enqueue: " + err.Error()
		t.ErrorKind = string(failure.Internal)
		if uerr := m.store.Update(ctx, t); uerr != nil {
			log.Printf("Could not mark task %s failed: %v", t.ID, uerr)
		}
		return "", err
	}
	log.Printf("Task %s queued", t.ID)
	return t.ID, nil
}

// CreateAndWait runs the pipeline inline and blocks until a terminal
// outcome, bounded by the configured sync timeout. A timeout surfaces as a
// request failure, never a silent hang.
func (m *Manager) CreateAndWait(ctx context.Context, req *models.VideoRequest) (*models.VideoResult, error) {
	t, err := m.newTask(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.syncTimeout)
	defer cancel()

	if err := m.execute(ctx, t, req); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, failure.New(failure.Cancelled, "task %s timed out after %s", t.ID, m.syncTimeout)
		}
		return nil, err
	}
	return t.Result(), nil
}

// Run is the worker entrypoint for a queued task id.
func (m *Manager) Run(ctx context.Context, taskID string) error {
	t, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != models.TaskPending {
		// Tasks are never restarted in place.
		log.Printf("Task %s is %s, not pending — skipping", t.ID, t.Status)
		return nil
	}
	var req models.VideoRequest
	if err := json.Unmarshal([]byte(t.Request), &req); err != nil {
		t.Status = models.TaskFailed
		t.Error = "corrupt request payload: " + err.Error()
		t.ErrorKind = string(failure.Internal)
		return m.store.Update(ctx, t)
	}
	return m.execute(ctx, t, &req)
}

// execute owns the pending → running → completed/failed transitions and the
// cancellation registration for one pipeline run.
func (m *Manager) execute(ctx context.Context, t *models.Task, req *models.VideoRequest) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.register(t.ID, cancel)
	defer m.unregister(t.ID)

	t.Status = models.TaskRunning
	if err := m.store.Update(ctx, t); err != nil {
		return err
	}

	result, err := m.runPipeline(runCtx, t.ID, req)
	if err != nil {
		kind := failure.KindOf(err)
		if runCtx.Err() != nil && ctx.Err() == nil {
			kind = failure.Cancelled
		}
		t.Status = models.TaskFailed
		t.Error = err.Error()
		t.ErrorKind = string(kind)
		log.Printf("Task %s failed (%s): %v", t.ID, kind, err)
		if uerr := m.store.Update(context.WithoutCancel(ctx), t); uerr != nil {
			log.Printf("Could not mark task %s failed: %v", t.ID, uerr)
		}
		return err
	}

	t.Status = models.TaskCompleted
	t.VideoPath = result.VideoPath
	t.DurationSeconds = result.DurationSeconds
	t.FileSizeBytes = result.FileSizeBytes
	t.ShotCount = result.ShotCount
	log.Printf("Task %s completed: %s (%.1fs, %d shots)", t.ID, result.VideoPath, result.DurationSeconds, result.ShotCount)
	return m.store.Update(context.WithoutCancel(ctx), t)
}

// GetStatus returns the current task record: status plus result or error
// detail.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*models.Task, error) {
	return m.store.Get(ctx, taskID)
}

// Cancel aborts a running task. The cancel is broadcast over Redis so the
// process that owns the pipeline — not necessarily this one — tears it
// down.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	if _, err := m.store.Get(ctx, taskID); err != nil {
		return err
	}
	// Cancel locally if we own the run.
	m.cancelLocal(taskID)

	payload, err := tasks.Marshal(tasks.CancelMessage{TaskID: taskID})
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, tasks.ChannelTaskCancelled, payload).Err()
}

// ListenForCancels subscribes to the cancel channel and tears down any
// matching pipeline this process owns. Blocks until ctx is done.
func (m *Manager) ListenForCancels(ctx context.Context) {
	pubsub := m.rdb.Subscribe(ctx, tasks.ChannelTaskCancelled)
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cm tasks.CancelMessage
			if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
				log.Printf("Error unmarshalling %s message: %v", tasks.ChannelTaskCancelled, err)
				continue
			}
			if m.cancelLocal(cm.TaskID) {
				log.Printf("Task %s cancelled", cm.TaskID)
			}
		}
	}
}

func (m *Manager) register(taskID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[taskID] = cancel
}

func (m *Manager) unregister(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, taskID)
}

func (m *Manager) cancelLocal(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[taskID]
	if ok {
		cancel()
	}
	return ok
}
