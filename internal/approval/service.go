package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// SystemResponder is recorded on approvals force-resolved by a
// timeout rather than a human decision.
const SystemResponder = "system"

// Approval manages the approval-gate lifecycle: requesting,
// resolving, and timing out human checkpoints.
type Approval interface {
	WithDatabase(*gorm.DB) Approval
	WithBus(event.Bus) Approval
	WithTimeout(time.Duration) Approval
	Request(pipelineID, stepID uuid.UUID) (*models.Approval, error)
	Approve(id uuid.UUID, responder, comment string) (*models.Approval, error)
	Reject(id uuid.UUID, responder, reason string) (*models.Approval, error)
	CheckTimeout(id uuid.UUID) (bool, error)
	Pending() (models.Approvals, error)
	PendingDetailed() ([]*PendingItem, error)
	Get(id uuid.UUID) (*models.Approval, error)
}

// PendingItem is a pending approval joined with the context an
// operator needs to decide on it.
type PendingItem struct {
	*models.Approval
	StepName string `json:"step_name"`
	Stage    string `json:"stage"`
	Repo     string `json:"repo"`
}

type service struct {
	ctx     context.Context
	db      *gorm.DB
	bus     event.Bus
	timeout time.Duration
}

// New creates an approval service bound to ctx, using the
// shared database connection and the configured timeout.
func New(ctx context.Context) Approval {
	return &service{
		ctx:     ctx,
		db:      db.Connection(),
		timeout: env.Variables().ApprovalTimeout,
	}
}

func (s *service) WithDatabase(conn *gorm.DB) Approval {
	s.db = conn
	return s
}

func (s *service) WithBus(bus event.Bus) Approval {
	s.bus = bus
	return s
}

func (s *service) WithTimeout(timeout time.Duration) Approval {
	s.timeout = timeout
	return s
}

// Request returns the existing pending approval for the
// (pipeline, step) pair if one exists; otherwise it creates
// one and moves the pipeline to waiting_approval.
func (s *service) Request(pipelineID, stepID uuid.UUID) (*models.Approval, error) {
	q := s.db.WithContext(s.ctx)

	pipeline := &models.Pipeline{}
	if err := q.First(pipeline, "id = ?", pipelineID).Error; err != nil {
		return nil, errors.Wrapf(err, "pipeline %v", pipelineID)
	}

	step := &models.Step{}
	if err := q.First(step, "id = ?", stepID).Error; err != nil {
		return nil, errors.Wrapf(err, "step %v", stepID)
	}

	existing := &models.Approval{}
	err := q.Where(
		"pipeline_id = ? AND step_id = ? AND status = ?",
		pipelineID, stepID, models.ApprovalStatusPending,
	).First(existing).Error
	if err == nil {
		log.Info("returning existing pending approval",
			"id", existing.ID, "step_id", stepID)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	a := &models.Approval{
		ID:          uuid.New(),
		PipelineID:  pipelineID,
		StepID:      stepID,
		Status:      models.ApprovalStatusPending,
		RequestedAt: time.Now().UTC(),
	}

	if err := q.Create(a).Error; err != nil {
		return nil, err
	}

	err = q.Model(pipeline).
		Update("status", models.PipelineStatusWaitingApproval).Error
	if err != nil {
		return nil, err
	}

	log.Info("created approval request",
		"id", a.ID, "pipeline_id", pipelineID, "step_id", stepID)

	s.publish(event.TypeApprovalRequested, &event.ApprovalRequested{
		ID:          a.ID,
		PipelineID:  a.PipelineID,
		StepID:      a.StepID,
		StepName:    step.Name,
		RequestedAt: a.RequestedAt,
	})

	return a, nil
}

// Approve resolves a pending approval and returns the owning
// pipeline to running.
func (s *service) Approve(id uuid.UUID, responder, comment string) (*models.Approval, error) {
	a, err := s.pendingByID(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.ApprovalStatusApproved,
		"responded_at": &now,
		"responded_by": responder,
		"comment":      comment,
	}
	if err := s.db.WithContext(s.ctx).Model(a).Updates(updates).Error; err != nil {
		return nil, err
	}
	a.Status = models.ApprovalStatusApproved
	a.RespondedAt = &now
	a.RespondedBy = responder
	a.Comment = comment

	err = s.db.WithContext(s.ctx).
		Model(&models.Pipeline{}).
		Where("id = ?", a.PipelineID).
		Update("status", models.PipelineStatusRunning).Error
	if err != nil {
		return nil, err
	}

	log.Info("approval granted",
		"id", id, "pipeline_id", a.PipelineID, "responder", responder)

	s.publishResolved(a, responder, &now)

	return a, nil
}

// Reject resolves a pending approval, fails the owning
// pipeline, and fails the gated step with an error citing the
// responder.
func (s *service) Reject(id uuid.UUID, responder, reason string) (*models.Approval, error) {
	a, err := s.pendingByID(id)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "no reason provided"
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.ApprovalStatusRejected,
		"responded_at": &now,
		"responded_by": responder,
		"comment":      reason,
	}
	if err := s.db.WithContext(s.ctx).Model(a).Updates(updates).Error; err != nil {
		return nil, err
	}
	a.Status = models.ApprovalStatusRejected
	a.RespondedAt = &now
	a.RespondedBy = responder
	a.Comment = reason

	err = s.db.WithContext(s.ctx).
		Model(&models.Pipeline{}).
		Where("id = ?", a.PipelineID).
		Update("status", models.PipelineStatusFailed).Error
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(s.ctx).
		Model(&models.Step{}).
		Where("id = ?", a.StepID).
		Updates(map[string]interface{}{
			"status": models.StepStatusFailed,
			"error":  fmt.Sprintf("rejected by %s: %s", responder, reason),
		}).Error
	if err != nil {
		return nil, err
	}

	log.Info("approval rejected",
		"id", id, "pipeline_id", a.PipelineID,
		"responder", responder, "reason", reason)

	s.publishResolved(a, responder, &now)

	return a, nil
}

// CheckTimeout force-rejects a pending approval whose age
// exceeds the configured timeout and fails the owning
// pipeline. It reports whether the approval timed out, and is
// safe to poll repeatedly.
func (s *service) CheckTimeout(id uuid.UUID) (bool, error) {
	a := &models.Approval{}
	err := s.db.WithContext(s.ctx).First(a, "id = ?", id).Error
	if err != nil {
		return false, errors.Wrapf(err, "approval %v", id)
	}

	if a.Status != models.ApprovalStatusPending {
		return false, nil
	}

	if time.Now().UTC().Before(a.RequestedAt.Add(s.timeout)) {
		return false, nil
	}

	now := time.Now().UTC()
	comment := fmt.Sprintf("timed out after %v", s.timeout)

	// only the first caller past the deadline applies the
	// rejection; racing callers see status != pending above
	res := s.db.WithContext(s.ctx).
		Model(a).
		Where("status = ?", models.ApprovalStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ApprovalStatusRejected,
			"responded_at": &now,
			"responded_by": SystemResponder,
			"comment":      comment,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	a.Status = models.ApprovalStatusRejected
	a.RespondedAt = &now
	a.RespondedBy = SystemResponder
	a.Comment = comment

	err = s.db.WithContext(s.ctx).
		Model(&models.Pipeline{}).
		Where("id = ?", a.PipelineID).
		Update("status", models.PipelineStatusFailed).Error
	if err != nil {
		return true, err
	}

	log.Warn("approval timed out", "id", id, "pipeline_id", a.PipelineID)

	s.publishResolved(a, SystemResponder, &now)

	return true, nil
}

// Pending lists all pending approvals, most recently requested
// first.
func (s *service) Pending() (models.Approvals, error) {
	approvals := make(models.Approvals, 0)
	err := s.db.WithContext(s.ctx).
		Where("status = ?", models.ApprovalStatusPending).
		Order("requested_at DESC").
		Find(&approvals).Error
	return approvals, err
}

// PendingDetailed lists pending approvals with their step and
// pipeline context.
func (s *service) PendingDetailed() ([]*PendingItem, error) {
	pending, err := s.Pending()
	if err != nil {
		return nil, err
	}

	items := make([]*PendingItem, 0, len(pending))
	for _, a := range pending {
		item := &PendingItem{Approval: a, StepName: "unknown", Stage: "unknown", Repo: "unknown"}

		step := &models.Step{}
		if err := s.db.WithContext(s.ctx).First(step, "id = ?", a.StepID).Error; err == nil {
			item.StepName = step.Name
			item.Stage = step.Stage
		}

		pipeline := &models.Pipeline{}
		if err := s.db.WithContext(s.ctx).First(pipeline, "id = ?", a.PipelineID).Error; err == nil {
			item.Repo = pipeline.Repo
		}

		items = append(items, item)
	}

	return items, nil
}

func (s *service) Get(id uuid.UUID) (*models.Approval, error) {
	a := &models.Approval{}
	err := s.db.WithContext(s.ctx).First(a, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "approval %v", id)
	}
	return a, nil
}

func (s *service) pendingByID(id uuid.UUID) (*models.Approval, error) {
	a := &models.Approval{}
	err := s.db.WithContext(s.ctx).First(a, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "approval %v", id)
	}

	if a.Status != models.ApprovalStatusPending {
		return nil, errors.Errorf(
			"approval %v is not pending (status: %v)", id, a.Status)
	}

	return a, nil
}

func (s *service) publish(t event.Type, data event.Payload) {
	if s.bus != nil {
		s.bus.Publish(t, data)
	}
}

func (s *service) publishResolved(a *models.Approval, responder string, respondedAt *time.Time) {
	s.publish(event.TypeApprovalResolved, &event.ApprovalResolved{
		ID:          a.ID,
		PipelineID:  a.PipelineID,
		Status:      string(a.Status),
		RespondedBy: responder,
		RespondedAt: respondedAt,
	})
}
