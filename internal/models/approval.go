package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus enumerates the states of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Approval is one outstanding or resolved human decision
// gating a step. At most one pending approval exists per
// (pipeline, step) pair.
type Approval struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PipelineID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"pipeline_id"`
	StepID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"step_id"`
	Status      ApprovalStatus `gorm:"type:text;index;not null" json:"status"`
	RequestedAt time.Time      `gorm:"not null" json:"requested_at"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
	RespondedBy string         `gorm:"type:text" json:"responded_by,omitempty"`
	Comment     string         `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

type Approvals []*Approval
