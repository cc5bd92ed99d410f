package storage

import (
	"context"
	"errors"
	"time"

	"refreshd/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// RunStore is the data access layer for refresh run history.
type RunStore interface {
	// CreateRun persists a new run in RUNNING state.
	CreateRun(ctx context.Context, run *models.Run) error

	// CompleteRun records the outcome of a run.
	CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedStep, errMsg, logURI string, completedAt time.Time) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}
