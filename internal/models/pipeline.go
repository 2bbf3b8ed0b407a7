package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PipelineStatus enumerates the lifecycle states of a pipeline.
// Transitions only move forward, except the running and
// waiting_approval oscillation while a gate is open.
type PipelineStatus string

const (
	PipelineStatusPending         PipelineStatus = "pending"
	PipelineStatusRunning         PipelineStatus = "running"
	PipelineStatusWaitingApproval PipelineStatus = "waiting_approval"
	PipelineStatusCompleted       PipelineStatus = "completed"
	PipelineStatusFailed          PipelineStatus = "failed"
	PipelineStatusAborted         PipelineStatus = "aborted"
)

// Terminal reports whether no further transitions are allowed.
func (s PipelineStatus) Terminal() bool {
	switch s {
	case PipelineStatusCompleted, PipelineStatusFailed, PipelineStatusAborted:
		return true
	}
	return false
}

// TriggerKind identifies what caused a pipeline to be created.
type TriggerKind string

const (
	TriggerManual           TriggerKind = "manual"
	TriggerIssueLabeled     TriggerKind = "issue_labeled"
	TriggerPRMerged         TriggerKind = "pr_merged"
	TriggerReleasePublished TriggerKind = "release_published"
)

// Pipeline is one execution of the fixed stage topology
// against a repository reference.
type Pipeline struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Repo        string            `gorm:"type:text;index;not null" json:"repo"`
	Ref         string            `gorm:"type:text;not null" json:"ref"`
	Version     string            `gorm:"type:text" json:"version,omitempty"`
	Status      PipelineStatus    `gorm:"type:text;index;not null" json:"status"`
	Trigger     TriggerKind       `gorm:"type:text;not null" json:"trigger"`
	TriggerData datatypes.JSONMap `gorm:"type:json" json:"trigger_data,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Steps       []*Step           `gorm:"foreignKey:PipelineID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
	Approvals   []*Approval       `gorm:"foreignKey:PipelineID;constraint:OnDelete:CASCADE" json:"approvals,omitempty"`
}

type Pipelines []*Pipeline
