package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/conduit-ci/conduit/internal/event"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// pingInterval spaces out SSE keep-alive comments so idle
// connections survive proxies.
const pingInterval = 15 * time.Second

// Controller serves the real-time event stream.
type Controller struct {
	bus event.Bus
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus}
}

// Stream serves the firehose, optionally filtered to one
// pipeline via the pipeline_id query parameter.
func (ctrl *Controller) Stream(c echo.Context) error {
	filter := event.Filter{}

	if raw := c.QueryParam("pipeline_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(400, "invalid pipeline_id")
		}
		filter.PipelineID = id
	}

	return ctrl.stream(c, filter)
}

// StreamPipeline is the path-parameter convenience form of
// Stream.
func (ctrl *Controller) StreamPipeline(c echo.Context) error {
	id, err := uuid.Parse(c.Param("pipeline_id"))
	if err != nil {
		return echo.NewHTTPError(400, "invalid pipeline_id")
	}

	return ctrl.stream(c, event.Filter{PipelineID: id})
}

func (ctrl *Controller) stream(c echo.Context, filter event.Filter) error {
	ctx := c.Request().Context()

	if raw := c.QueryParam("replay"); raw != "" {
		replay, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(400, "invalid replay")
		}
		filter.Replay = replay
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(500, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable buffering in Nginx

	if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
		return nil
	}
	c.Response().Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		case e, ok := <-ch:
			if !ok {
				return nil
			}

			data, err := json.Marshal(e.Data)
			if err != nil {
				c.Logger().Errorf("failed to marshal event for SSE stream: %v", err)
				continue
			}

			if _, err := fmt.Fprintf(c.Response(),
				"id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
