package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/mail"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
)

const unknownEventType = "unknown"

var timeNow = time.Now

type WebhookController struct {
	backend  *backend.Backend
	calls    CallRecorder
	mailer   Mailer
	frontend string
}

// HandleWebhook ingests a platform callback for one integration. Nothing is
// deduplicated; every delivery becomes a row.
func (w *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	integrationID := strings.TrimSpace(c.Query("integrationId"))
	if integrationID == "" {
		return jsonError(c, fiber.StatusBadRequest, "Integration ID is required")
	}

	body := append([]byte(nil), c.Body()...)
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid JSON payload")
	}
	eventType, _ := payload["event_type"].(string)
	if strings.TrimSpace(eventType) == "" {
		eventType = unknownEventType
	}

	ctx := c.UserContext()
	event, integration, err := w.backend.Repos.Webhook.Record(ctx, integrationID, eventType, body)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Integration not found")
		}
		log.Errorf("[Webhook] failed to record %s for integration %s: %v", eventType, integrationID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to process webhook")
	}

	if raw, err := json.Marshal(event); err != nil {
		log.Errorf("[Webhook] failed to encode event %d: %v", event.ID, err)
	} else if err := w.backend.Publish(ctx, realtime.WebhookEventsChannel(integration.UserID), raw); err != nil {
		log.Errorf("[Webhook] failed to publish event %d: %v", event.ID, err)
	}

	if w.calls != nil {
		if err := w.calls.Record(ctx, integration.UserID); err != nil {
			log.Errorf("[Webhook] failed to count call for user %d: %v", integration.UserID, err)
		}
	}

	if isFailureEvent(eventType) {
		w.recordFailure(c, integration, payload, body)
	}

	return c.JSON(fiber.Map{"success": true})
}

func isFailureEvent(eventType string) bool {
	return eventType == "sync.failed" || strings.HasSuffix(eventType, ".error")
}

// failureDetails pulls a message and code out of the common payload shapes:
// {"error":"..."}, {"error":{"message":"...","code":"..."}} and top level
// "message"/"code".
func failureDetails(payload map[string]any) (message, code string) {
	switch e := payload["error"].(type) {
	case string:
		message = e
	case map[string]any:
		message, _ = e["message"].(string)
		code = stringish(e["code"])
	}
	if message == "" {
		message, _ = payload["message"].(string)
	}
	if code == "" {
		code = stringish(payload["code"])
	}
	if message == "" {
		message = "Sync failed"
	}
	return message, code
}

func stringish(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	}
	return ""
}

func (w *WebhookController) recordFailure(c *fiber.Ctx, integration *models.Integration, payload map[string]any, body []byte) {
	ctx := c.UserContext()
	message, code := failureDetails(payload)

	entry := &models.ErrorLog{
		IntegrationID: integration.ID,
		ErrorMessage:  message,
		ErrorCode:     code,
		Timestamp:     timeNow().UTC(),
		Details:       datatypes.JSON(body),
	}
	if err := w.backend.Repos.ErrorLog.Create(ctx, entry); err != nil {
		log.Errorf("[Webhook] failed to write error log for integration %s: %v", integration.ID, err)
	}
	if err := w.backend.Repos.Integration.UpdateStatus(ctx, integration.ID, models.INTEGRATION_ERROR, message); err != nil {
		log.Errorf("[Webhook] failed to flag integration %s: %v", integration.ID, err)
		return
	}
	// notify once per outage, not on every failing delivery
	if w.mailer != nil && !integration.IsErrored() {
		w.notifyFailure(ctx, integration.UserID, integration.Name, message)
	}
}

// notifyFailure hands the notice to the mailer, which queues it in production.
func (w *WebhookController) notifyFailure(ctx context.Context, userID uint, name, message string) {
	user, err := w.backend.GetUser(ctx, userID)
	if err != nil {
		log.Errorf("[Webhook] failed to load user %d for error notice: %v", userID, err)
		return
	}
	subject, body := mail.IntegrationErrorMail(name, message, w.frontend+"/dashboard")
	if err := w.mailer.SendMail(ctx, user.Email, subject, body); err != nil {
		log.Errorf("[Webhook] failed to notify user %d: %v", userID, err)
	}
}
