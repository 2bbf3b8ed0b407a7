package pipeline

import (
	"net/http"

	"github.com/conduit-ci/conduit/api/rest/service/pipeline"
	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) Post(c echo.Context) error {
	var req pipeline.CreateRequest

	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	p, err := pipeline.Service(c.Request().Context()).
		WithBus(ctrl.bus).
		Create(&req)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, p)
}
