package approval

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	a, err := ctrl.service(c.Request().Context()).Get(id)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrInternalServerError.SetInternal(err)
	default:
		return c.JSON(http.StatusOK, a)
	}
}
