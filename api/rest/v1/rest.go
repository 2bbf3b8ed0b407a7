package rest

import (
	approvalctl "github.com/conduit-ci/conduit/api/rest/controller/approval"
	eventctl "github.com/conduit-ci/conduit/api/rest/controller/event"
	pipelinectl "github.com/conduit-ci/conduit/api/rest/controller/pipeline"
	webhookctl "github.com/conduit-ci/conduit/api/rest/controller/webhook"
	"github.com/labstack/echo/v4"
)

// Controllers carries the shared controller instances bound to
// the versioned endpoint group.
type Controllers struct {
	Pipelines *pipelinectl.Controller
	Approvals *approvalctl.Controller
	Webhooks  *webhookctl.Controller
	Events    *eventctl.Controller
}

// Bind the REST endpoints to the versioned endpoint group.
func Bind(g *echo.Group, ctrl *Controllers) {
	// webhooks
	{
		g.POST("/webhooks/github", ctrl.Webhooks.Github)
		g.GET("/webhooks/events", ctrl.Webhooks.Events)
		g.GET("/webhooks/events/:id", ctrl.Webhooks.Event)
	}

	// pipelines
	{
		g.GET("/pipelines", ctrl.Pipelines.List)
		g.POST("/pipelines", ctrl.Pipelines.Post)
		g.GET("/pipelines/running", ctrl.Pipelines.Running)
		g.GET("/pipelines/:id", ctrl.Pipelines.Get)
		g.POST("/pipelines/:id/start", ctrl.Pipelines.Start)
		g.POST("/pipelines/:id/abort", ctrl.Pipelines.Abort)
		g.POST("/pipelines/:id/retry/:step_id", ctrl.Pipelines.Retry)
	}

	// approvals
	{
		g.GET("/approvals/pending", ctrl.Approvals.Pending)
		g.GET("/approvals/:id", ctrl.Approvals.Get)
		g.POST("/approvals/:id/approve", ctrl.Approvals.Approve)
		g.POST("/approvals/:id/reject", ctrl.Approvals.Reject)
	}

	// events
	{
		g.GET("/events/stream", ctrl.Events.Stream)
		g.GET("/events/stream/:pipeline_id", ctrl.Events.StreamPipeline)
		g.GET("/events/stats", ctrl.Events.Stats)
	}
}
