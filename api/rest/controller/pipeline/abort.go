package pipeline

import (
	"net/http"

	"github.com/conduit-ci/conduit/api/rest/service/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (ctrl *Controller) Abort(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	_, err = ctrl.exec.Abort(id)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrBadRequest.SetInternal(err)
	}

	p, err := pipeline.Service(c.Request().Context()).Get(id)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, p)
}
