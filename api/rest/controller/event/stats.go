package event

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.bus.Stats())
}
