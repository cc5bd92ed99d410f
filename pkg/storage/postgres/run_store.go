package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"refreshd/pkg/models"
	"refreshd/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a GORM connection and migrates the run schema.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One refresh at a time; a handful of connections covers history reads.
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Run{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun persists a new run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

// CompleteRun marks a run as finished.
func (s *PostgresStore) CompleteRun(ctx context.Context, id uuid.UUID, status models.RunStatus, failedStep, errMsg, logURI string, completedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"failed_step":  failedStep,
			"error":        errMsg,
			"log_uri":      logURI,
			"completed_at": completedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to complete run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	var runs []models.Run
	result := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&runs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}
