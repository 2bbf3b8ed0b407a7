package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload is the typed data carried by an event. Every event
// kind has its own payload type so producers and consumers
// cannot drift on payload shape.
type Payload interface {
	pipelineRef() uuid.UUID
}

// PipelineCreated is the payload for pipeline.created.
type PipelineCreated struct {
	ID        uuid.UUID `json:"id"`
	Repo      string    `json:"repo"`
	Version   string    `json:"version,omitempty"`
	Status    string    `json:"status"`
	Trigger   string    `json:"trigger"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *PipelineCreated) pipelineRef() uuid.UUID { return p.ID }

// PipelineUpdated is the payload for pipeline.updated.
type PipelineUpdated struct {
	ID          uuid.UUID `json:"id"`
	Status      string    `json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
}

func (p *PipelineUpdated) pipelineRef() uuid.UUID { return p.ID }

// PipelineCompleted is the payload for pipeline.completed.
type PipelineCompleted struct {
	ID              uuid.UUID `json:"id"`
	Status          string    `json:"status"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

func (p *PipelineCompleted) pipelineRef() uuid.UUID { return p.ID }

// StepStarted is the payload for step.started.
type StepStarted struct {
	PipelineID uuid.UUID `json:"pipeline_id"`
	StepID     uuid.UUID `json:"step_id"`
	Name       string    `json:"name"`
	Stage      string    `json:"stage"`
}

func (p *StepStarted) pipelineRef() uuid.UUID { return p.PipelineID }

// StepCompleted is the payload for step.completed.
type StepCompleted struct {
	PipelineID      uuid.UUID `json:"pipeline_id"`
	StepID          uuid.UUID `json:"step_id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
}

func (p *StepCompleted) pipelineRef() uuid.UUID { return p.PipelineID }

// StepLog is the payload for step.log.
type StepLog struct {
	PipelineID uuid.UUID `json:"pipeline_id"`
	StepID     uuid.UUID `json:"step_id"`
	Line       string    `json:"line"`
	Timestamp  time.Time `json:"timestamp"`
}

func (p *StepLog) pipelineRef() uuid.UUID { return p.PipelineID }

// ApprovalRequested is the payload for approval.requested.
type ApprovalRequested struct {
	ID          uuid.UUID `json:"id"`
	PipelineID  uuid.UUID `json:"pipeline_id"`
	StepID      uuid.UUID `json:"step_id"`
	StepName    string    `json:"step_name"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p *ApprovalRequested) pipelineRef() uuid.UUID { return p.PipelineID }

// ApprovalResolved is the payload for approval.resolved.
type ApprovalResolved struct {
	ID          uuid.UUID  `json:"id"`
	PipelineID  uuid.UUID  `json:"pipeline_id"`
	Status      string     `json:"status"`
	RespondedBy string     `json:"responded_by,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func (p *ApprovalResolved) pipelineRef() uuid.UUID { return p.PipelineID }

// Heartbeat is the payload for heartbeat. It always passes
// subscriber filters.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

func (p *Heartbeat) pipelineRef() uuid.UUID { return uuid.Nil }

// Error is the payload for error. It always passes subscriber
// filters.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (p *Error) pipelineRef() uuid.UUID { return uuid.Nil }
