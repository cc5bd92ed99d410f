package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"refreshd/pkg/models"
)

// MemoryRunStore keeps the most recent runs in process memory.
type MemoryRunStore struct {
	mu       sync.RWMutex
	runs     []*models.Run // oldest first
	capacity int
}

// NewMemoryRunStore creates a store retaining at most capacity runs.
func NewMemoryRunStore(capacity int) *MemoryRunStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRunStore{capacity: capacity}
}

func (m *MemoryRunStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == run.ID {
			return ErrConflict
		}
	}
	stored := *run
	m.runs = append(m.runs, &stored)
	if len(m.runs) > m.capacity {
		m.runs = m.runs[len(m.runs)-m.capacity:]
	}
	return nil
}

func (m *MemoryRunStore) CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedStep, errMsg, logURI string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			r.Status = status
			r.FailedStep = failedStep
			r.Error = errMsg
			r.LogURI = logURI
			t := completedAt
			r.CompletedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryRunStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			out := *r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRunStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]models.Run, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.runs[i])
	}
	return out, nil
}
