package pipeline

import (
	"github.com/conduit-ci/conduit/internal/event"
	"github.com/conduit-ci/conduit/internal/pipeline"
)

// Controller serves the pipeline endpoints. It shares one
// executor so background tasks and their registry survive
// across requests.
type Controller struct {
	exec pipeline.Executor
	bus  event.Bus
}

func New(exec pipeline.Executor, bus event.Bus) *Controller {
	return &Controller{exec: exec, bus: bus}
}
