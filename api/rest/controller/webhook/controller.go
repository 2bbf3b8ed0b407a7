package webhook

import (
	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/pkg/env"
)

// Controller serves the inbound webhook endpoints.
type Controller struct {
	bus    event.Bus
	secret string
}

func New(bus event.Bus) *Controller {
	return &Controller{
		bus:    bus,
		secret: env.Variables().WebhookSecret,
	}
}
