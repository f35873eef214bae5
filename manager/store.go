package manager

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
)

// TaskStore persists task records. The manager is the only writer.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, t *models.Task) error
}

// GormStore keeps task records in the database.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Create(ctx context.Context, t *models.Task) error {
	return s.DB.WithContext(ctx).Create(t).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, failure.New(failure.NotFound, "task %s not found", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) Update(ctx context.Context, t *models.Task) error {
	return s.DB.WithContext(ctx).Save(t).Error
}

// MemoryStore keeps task records in memory. Used by tests and by
// single-process deployments that opt out of the database.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]models.Task)}
}

func (s *MemoryStore) Create(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, failure.New(failure.NotFound, "task %s not found", id)
	}
	copy := t
	return &copy, nil
}

func (s *MemoryStore) Update(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}
