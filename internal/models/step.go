package models

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus enumerates the lifecycle states of a step.
// Only failed steps may be reset to pending for a retry.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step has finished.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Step is one unit of work within one stage of one pipeline.
type Step struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PipelineID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"pipeline_id"`
	Name             string     `gorm:"type:text;index;not null" json:"name"`
	Stage            string     `gorm:"type:text;index;not null" json:"stage"`
	Status           StepStatus `gorm:"type:text;index;not null" json:"status"`
	RequiresApproval bool       `gorm:"not null;default:false" json:"requires_approval"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Logs             string     `gorm:"type:text" json:"logs,omitempty"`
	Error            string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

type Steps []*Step
