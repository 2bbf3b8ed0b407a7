package approval

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ApproveRequest is the body for granting an approval.
type ApproveRequest struct {
	User    string `json:"user"`
	Comment string `json:"comment"`
}

func (ctrl *Controller) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	if req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}

	a, err := ctrl.service(c.Request().Context()).Approve(id, req.User, req.Comment)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrBadRequest.SetInternal(err)
	default:
		return c.JSON(http.StatusOK, a)
	}
}
