package webhook

import (
	"context"

	"github.com/conduit-ci/conduit/internal/models"
	"github.com/conduit-ci/conduit/pkg/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLimit bounds an unpaged inbound event listing.
const DefaultLimit = 50

// Webhook is the read surface over ingested inbound events,
// used for delivery debugging.
type Webhook interface {
	WithDatabase(*gorm.DB) Webhook
	List(*ListRequest) (models.InboundEvents, error)
	Get(uuid.UUID) (*models.InboundEvent, error)
}

type webhookService struct {
	ctx context.Context
	db  *gorm.DB
}

func Service(ctx context.Context) Webhook {
	return &webhookService{
		ctx: ctx,
		db:  db.Connection(),
	}
}

func (w *webhookService) WithDatabase(conn *gorm.DB) Webhook {
	w.db = conn
	return w
}

type ListRequest struct {
	Limit  uint64
	Offset uint64
}

func (w *webhookService) List(req *ListRequest) (models.InboundEvents, error) {
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	events := make(models.InboundEvents, 0)
	q := w.db.WithContext(w.ctx).
		Order("created_at DESC").
		Limit(int(limit))

	if req.Offset > 0 {
		q = q.Offset(int(req.Offset))
	}

	return events, q.Find(&events).Error
}

func (w *webhookService) Get(id uuid.UUID) (*models.InboundEvent, error) {
	e := &models.InboundEvent{}
	err := w.db.WithContext(w.ctx).First(e, "id = ?", id).Error
	return e, err
}
