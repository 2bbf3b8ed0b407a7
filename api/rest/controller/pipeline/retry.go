package pipeline

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (ctrl *Controller) Retry(c echo.Context) error {
	pipelineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	stepID, err := uuid.Parse(c.Param("step_id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	step, err := ctrl.exec.RetryStep(pipelineID, stepID)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrBadRequest.SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":      step.ID,
		"name":    step.Name,
		"stage":   step.Stage,
		"status":  step.Status,
		"message": "step reset for retry",
	})
}
