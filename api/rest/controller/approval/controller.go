package approval

import (
	"context"

	"github.com/conduit-ci/conduit/internal/approval"
	"github.com/conduit-ci/conduit/internal/event"
)

// Controller serves the approval endpoints.
type Controller struct {
	bus event.Bus
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus}
}

func (ctrl *Controller) service(ctx context.Context) approval.Approval {
	return approval.New(ctx).WithBus(ctrl.bus)
}
