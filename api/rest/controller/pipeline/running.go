package pipeline

import (
	"net/http"

	"github.com/conduit-ci/conduit/api/rest/service/pipeline"
	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) Running(c echo.Context) error {
	pipelines, err := pipeline.Service(c.Request().Context()).Running()
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, pipelines)
}
