package pipeline

import (
	"context"

	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pipeline is the read/create surface behind the pipeline
// endpoints. Execution control lives with the executor.
type Pipeline interface {
	WithDatabase(*gorm.DB) Pipeline
	WithBus(event.Bus) Pipeline
	List(*ListRequest) (models.Pipelines, error)
	Get(uuid.UUID) (*models.Pipeline, error)
	Create(*CreateRequest) (*models.Pipeline, error)
	Running() (models.Pipelines, error)
}

type pipelineService struct {
	ctx context.Context
	db  *gorm.DB
	bus event.Bus
}

func Service(ctx context.Context) Pipeline {
	return &pipelineService{
		ctx: ctx,
		db:  db.Connection(),
	}
}

func (p *pipelineService) WithDatabase(conn *gorm.DB) Pipeline {
	p.db = conn
	return p
}

func (p *pipelineService) WithBus(bus event.Bus) Pipeline {
	p.bus = bus
	return p
}

type ListRequest struct {
	Limit  uint64
	Offset uint64
	Status string
	Repo   string
}

func (p *pipelineService) List(req *ListRequest) (models.Pipelines, error) {
	var (
		pipelines = make(models.Pipelines, 0)
		q         = p.db.WithContext(p.ctx).Order("created_at DESC")
	)

	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}

	if req.Repo != "" {
		q = q.Where("repo = ?", req.Repo)
	}

	if req.Limit > 0 {
		q = q.Limit(int(req.Limit))
	}

	if req.Offset > 0 {
		q = q.Offset(int(req.Offset))
	}

	return pipelines, q.Find(&pipelines).Error
}

// Get returns one pipeline with its steps and approvals.
func (p *pipelineService) Get(id uuid.UUID) (*models.Pipeline, error) {
	pipeline := &models.Pipeline{}
	err := p.db.WithContext(p.ctx).
		Preload("Steps", func(q *gorm.DB) *gorm.DB {
			return q.Order("created_at ASC")
		}).
		Preload("Approvals").
		First(pipeline, "id = ?", id).Error
	return pipeline, err
}

type CreateRequest struct {
	Repo        string                 `json:"repo"`
	Ref         string                 `json:"ref"`
	Version     string                 `json:"version"`
	TriggerData map[string]interface{} `json:"trigger_data"`
}

// Create records a manually triggered pipeline in pending
// state. Starting it is a separate call.
func (p *pipelineService) Create(req *CreateRequest) (*models.Pipeline, error) {
	if req.Repo == "" {
		return nil, errors.New("repo is required")
	}

	ref := req.Ref
	if ref == "" {
		ref = env.Variables().DefaultBranch
	}
	if ref == "" {
		ref = "main"
	}

	pipeline := &models.Pipeline{
		ID:          uuid.New(),
		Repo:        req.Repo,
		Ref:         ref,
		Version:     req.Version,
		Status:      models.PipelineStatusPending,
		Trigger:     models.TriggerManual,
		TriggerData: datatypes.JSONMap(req.TriggerData),
	}

	if err := p.db.WithContext(p.ctx).Create(pipeline).Error; err != nil {
		return nil, err
	}

	if p.bus != nil {
		p.bus.Publish(event.TypePipelineCreated, &event.PipelineCreated{
			ID:        pipeline.ID,
			Repo:      pipeline.Repo,
			Version:   pipeline.Version,
			Status:    string(pipeline.Status),
			Trigger:   string(pipeline.Trigger),
			CreatedAt: pipeline.CreatedAt,
		})
	}

	return pipeline, nil
}

// Running lists pipelines still in flight, newest first. A
// pipeline blocked on an approval gate counts as running.
func (p *pipelineService) Running() (models.Pipelines, error) {
	pipelines := make(models.Pipelines, 0)
	err := p.db.WithContext(p.ctx).
		Where("status IN ?", []models.PipelineStatus{
			models.PipelineStatusRunning,
			models.PipelineStatusWaitingApproval,
		}).
		Order("created_at DESC").
		Find(&pipelines).Error
	return pipelines, err
}
