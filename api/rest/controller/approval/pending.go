package approval

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) Pending(c echo.Context) error {
	items, err := ctrl.service(c.Request().Context()).PendingDetailed()
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, items)
}
