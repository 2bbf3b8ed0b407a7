package webhook

import (
	"net/http"
	"strconv"

	"github.com/conduit-ci/conduit/api/rest/service/webhook"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (ctrl *Controller) Events(c echo.Context) error {
	req := &webhook.ListRequest{}

	var err error
	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.ParseUint(limit, 10, 32); err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
	}
	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
	}

	events, err := webhook.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, events)
}

func (ctrl *Controller) Event(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	e, err := webhook.Service(c.Request().Context()).Get(id)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrInternalServerError.SetInternal(err)
	default:
		return c.JSON(http.StatusOK, e)
	}
}
