package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReadyLabel is the issue label that triggers a pipeline.
const ReadyLabel = "status:ready"

// Handler converts authenticated, deduplicated external
// notifications into pipeline lifecycle actions.
type Handler interface {
	WithDatabase(*gorm.DB) Handler
	WithBus(event.Bus) Handler
	IsDuplicate(deliveryID string) (bool, error)
	StoreEvent(deliveryID, eventType, action, repo string, payload map[string]interface{}) (*models.InboundEvent, error)
	ProcessEvent(e *models.InboundEvent) (*models.Pipeline, error)
}

type handler struct {
	ctx           context.Context
	db            *gorm.DB
	bus           event.Bus
	defaultBranch string
}

// New creates an inbound event handler bound to ctx, using the
// shared database connection.
func New(ctx context.Context) Handler {
	return &handler{
		ctx:           ctx,
		db:            db.Connection(),
		defaultBranch: env.Variables().DefaultBranch,
	}
}

func (h *handler) WithDatabase(conn *gorm.DB) Handler {
	h.db = conn
	return h
}

func (h *handler) WithBus(bus event.Bus) Handler {
	h.bus = bus
	return h
}

// IsDuplicate reports whether a delivery with this identifier
// has already been ingested.
func (h *handler) IsDuplicate(deliveryID string) (bool, error) {
	var count int64
	err := h.db.WithContext(h.ctx).
		Model(&models.InboundEvent{}).
		Where("delivery_id = ?", deliveryID).
		Count(&count).Error
	return count > 0, err
}

// StoreEvent persists a new inbound event row. Duplicate
// detection is the caller's responsibility, checked first.
func (h *handler) StoreEvent(deliveryID, eventType, action, repo string, payload map[string]interface{}) (*models.InboundEvent, error) {
	e := &models.InboundEvent{
		ID:         uuid.New(),
		DeliveryID: deliveryID,
		EventType:  eventType,
		Action:     action,
		Repo:       repo,
		Payload:    datatypes.JSONMap(payload),
	}

	if err := h.db.WithContext(h.ctx).Create(e).Error; err != nil {
		return nil, errors.Wrap(err, "failed to store inbound event")
	}

	return e, nil
}

// ProcessEvent dispatches on (event type, action) and may
// create a pipeline. Processing failures are recorded on the
// event row, never propagated: a malformed delivery must not
// crash ingestion.
func (h *handler) ProcessEvent(e *models.InboundEvent) (*models.Pipeline, error) {
	var (
		pipeline *models.Pipeline
		err      error
	)

	switch {
	case e.EventType == "issues" && e.Action == "labeled":
		pipeline, err = h.issueLabeled(e)
	case e.EventType == "pull_request" && e.Action == "closed":
		pipeline, err = h.pullRequestClosed(e)
	case e.EventType == "workflow_run" && e.Action == "completed":
		// reserved for step-status reconciliation; record only
		h.workflowCompleted(e)
	case e.EventType == "release" && e.Action == "published":
		pipeline, err = h.releasePublished(e)
	default:
		log.Debug("ignoring inbound event",
			"type", e.EventType, "action", e.Action)
	}

	q := h.db.WithContext(h.ctx)

	if err != nil {
		log.Error("inbound event processing failure",
			"id", e.ID, "error", err)
		e.Error = err.Error()
		return nil, q.Model(e).Update("error", e.Error).Error
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed":    true,
		"processed_at": &now,
	}
	if pipeline != nil {
		updates["pipeline_id"] = pipeline.ID
	}

	if err := q.Model(e).Updates(updates).Error; err != nil {
		return nil, err
	}

	return pipeline, nil
}

func (h *handler) issueLabeled(e *models.InboundEvent) (*models.Pipeline, error) {
	label, _ := nested(e.Payload, "label")
	name, _ := label["name"].(string)

	if name != ReadyLabel {
		log.Debug("ignoring label", "label", name)
		return nil, nil
	}

	issue, ok := nested(e.Payload, "issue")
	if !ok {
		return nil, errors.New("issues payload missing issue")
	}

	number, ok := asInt(issue["number"])
	if !ok {
		return nil, errors.New("issues payload missing issue number")
	}
	title, _ := issue["title"].(string)

	log.Info("creating pipeline for issue",
		"repo", e.Repo, "issue", number)

	return h.createPipeline(&models.Pipeline{
		ID:      uuid.New(),
		Repo:    e.Repo,
		Ref:     h.defaultBranch,
		Status:  models.PipelineStatusPending,
		Trigger: models.TriggerIssueLabeled,
		TriggerData: datatypes.JSONMap{
			"issue_number": number,
			"issue_title":  title,
			"label":        name,
		},
	})
}

func (h *handler) pullRequestClosed(e *models.InboundEvent) (*models.Pipeline, error) {
	pr, ok := nested(e.Payload, "pull_request")
	if !ok {
		return nil, errors.New("pull_request payload missing pull_request")
	}

	if merged, _ := pr["merged"].(bool); !merged {
		log.Debug("ignoring unmerged pull request close")
		return nil, nil
	}

	number, ok := asInt(pr["number"])
	if !ok {
		return nil, errors.New("pull_request payload missing number")
	}
	title, _ := pr["title"].(string)
	mergeCommit, _ := pr["merge_commit_sha"].(string)
	if len(mergeCommit) > 7 {
		mergeCommit = mergeCommit[:7]
	}

	log.Info("creating pipeline for merged pull request",
		"repo", e.Repo, "number", number, "commit", mergeCommit)

	return h.createPipeline(&models.Pipeline{
		ID:      uuid.New(),
		Repo:    e.Repo,
		Ref:     fmt.Sprintf("refs/pull/%d/merge", number),
		Status:  models.PipelineStatusPending,
		Trigger: models.TriggerPRMerged,
		TriggerData: datatypes.JSONMap{
			"pr_number":    number,
			"pr_title":     title,
			"merge_commit": mergeCommit,
		},
	})
}

func (h *handler) workflowCompleted(e *models.InboundEvent) {
	run, _ := nested(e.Payload, "workflow_run")
	name, _ := run["name"].(string)
	conclusion, _ := run["conclusion"].(string)

	log.Info("workflow run completed",
		"workflow", name, "conclusion", conclusion)
}

func (h *handler) releasePublished(e *models.InboundEvent) (*models.Pipeline, error) {
	release, ok := nested(e.Payload, "release")
	if !ok {
		return nil, errors.New("release payload missing release")
	}

	tag, _ := release["tag_name"].(string)
	name, _ := release["name"].(string)
	version := strings.TrimPrefix(tag, "v")

	log.Info("recording published release",
		"repo", e.Repo, "tag", tag)

	// the release already happened upstream; this is a
	// historical record-only pipeline
	now := time.Now().UTC()
	return h.createPipeline(&models.Pipeline{
		ID:          uuid.New(),
		Repo:        e.Repo,
		Ref:         "refs/tags/" + tag,
		Version:     version,
		Status:      models.PipelineStatusCompleted,
		Trigger:     models.TriggerReleasePublished,
		CompletedAt: &now,
		TriggerData: datatypes.JSONMap{
			"tag_name":     tag,
			"release_name": name,
		},
	})
}

func (h *handler) createPipeline(p *models.Pipeline) (*models.Pipeline, error) {
	if err := h.db.WithContext(h.ctx).Create(p).Error; err != nil {
		return nil, err
	}

	if h.bus != nil {
		h.bus.Publish(event.TypePipelineCreated, &event.PipelineCreated{
			ID:        p.ID,
			Repo:      p.Repo,
			Version:   p.Version,
			Status:    string(p.Status),
			Trigger:   string(p.Trigger),
			CreatedAt: p.CreatedAt,
		})
	}

	return p, nil
}

func nested(payload map[string]interface{}, key string) (map[string]interface{}, bool) {
	m, ok := payload[key].(map[string]interface{})
	return m, ok
}

// asInt normalizes the numeric types a decoded JSON payload may
// carry: float64 from the request decoder, json.Number from a
// JSONMap column read back from storage.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
