package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trigger identifies what started a refresh.
type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// RunStatus represents the state of a refresh run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// Run is one execution of the refresh sequence.
type Run struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Trigger     Trigger    `json:"trigger" gorm:"type:varchar(20);not null"`
	RequestID   string     `json:"request_id,omitempty"`
	Status      RunStatus  `json:"status" gorm:"type:varchar(20);not null;default:'RUNNING';index"`
	FailedStep  string     `json:"failed_step,omitempty" gorm:"type:varchar(40)"`
	Error       string     `json:"error,omitempty"`
	LogURI      string     `json:"log_uri,omitempty"`
	StartedAt   time.Time  `json:"started_at" gorm:"not null;index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BeforeCreate hook to generate UUID if not present
func (r *Run) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
