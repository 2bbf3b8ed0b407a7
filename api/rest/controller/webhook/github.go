package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/conduit-ci/conduit/internal/webhook"
	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/labstack/echo/v4"
)

// Github ingests one GitHub webhook delivery: verify the
// signature, drop duplicates, store the event, and process it.
// A 200 goes back quickly so the sender does not retry.
func (ctrl *Controller) Github(c echo.Context) error {
	deliveryID := c.Request().Header.Get("X-GitHub-Delivery")
	eventType := c.Request().Header.Get("X-GitHub-Event")
	if deliveryID == "" || eventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing github headers")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if ctrl.secret != "" {
		signature := c.Request().Header.Get("X-Hub-Signature-256")
		if signature == "" {
			log.Warn("missing signature header", "delivery_id", deliveryID)
			return echo.NewHTTPError(http.StatusUnauthorized, "missing signature")
		}
		if !webhook.VerifySignature(body, signature, ctrl.secret) {
			log.Warn("invalid signature", "delivery_id", deliveryID)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	repo := "unknown/unknown"
	if r, ok := payload["repository"].(map[string]interface{}); ok {
		if name, ok := r["full_name"].(string); ok && name != "" {
			repo = name
		}
	}
	action, _ := payload["action"].(string)

	log.Info("received webhook",
		"event", eventType, "action", action,
		"repo", repo, "delivery_id", deliveryID)

	h := webhook.New(c.Request().Context()).WithBus(ctrl.bus)

	dup, err := h.IsDuplicate(deliveryID)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	if dup {
		log.Info("ignoring duplicate delivery", "delivery_id", deliveryID)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "ignored",
			"reason": "duplicate",
		})
	}

	e, err := h.StoreEvent(deliveryID, eventType, action, repo, payload)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	p, err := h.ProcessEvent(e)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	resp := map[string]interface{}{
		"status":      "processed",
		"event_id":    e.ID,
		"pipeline_id": nil,
	}
	if p != nil {
		resp["pipeline_id"] = p.ID
	}

	return c.JSON(http.StatusOK, resp)
}
