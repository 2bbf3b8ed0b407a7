package approval

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// RejectRequest is the body for rejecting an approval.
type RejectRequest struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

func (ctrl *Controller) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	var req RejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	if req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}

	a, err := ctrl.service(c.Request().Context()).Reject(id, req.User, req.Reason)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrBadRequest.SetInternal(err)
	default:
		return c.JSON(http.StatusOK, a)
	}
}
