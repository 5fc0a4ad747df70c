package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/dashboard"
)

const streamHeartbeat = 25 * time.Second

type DashboardController struct {
	backend    *backend.Backend
	aggregator *dashboard.Aggregator
}

func (d *DashboardController) HandleDashboard(c *fiber.Ctx) error {
	snap, err := d.aggregator.Load(c.UserContext(), currentUserID(c))
	if err != nil {
		log.Errorf("[Dashboard] failed to load dashboard of user %d: %v", currentUserID(c), err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load dashboard")
	}
	return c.JSON(snap)
}

// writeEvent writes one server-sent event and flushes it.
func writeEvent(w *bufio.Writer, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, raw); err != nil {
		return err
	}
	return w.Flush()
}

// HandleStream pushes the recent webhook list, first as a whole and then
// after every new event. The feed closes when the client goes away.
func (d *DashboardController) HandleStream(c *fiber.Ctx) error {
	userID := currentUserID(c)
	load := func(ctx context.Context) ([]models.WebhookEvent, error) {
		return d.backend.Repos.Webhook.RecentForUser(ctx, userID, dashboard.RecentEventsLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	feed, err := dashboard.OpenFeed(ctx, d.backend, userID, load)
	if err != nil {
		cancel()
		log.Errorf("[Dashboard] failed to open event feed of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Realtime updates unavailable")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer feed.Close()

		if err := writeEvent(w, "events", feed.Events()); err != nil {
			return
		}
		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case events, ok := <-feed.Updates():
				if !ok {
					return
				}
				if err := writeEvent(w, "events", events); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func (d *DashboardController) HandleListIntegrations(c *fiber.Ctx) error {
	integrations, err := d.backend.Repos.Integration.ListByUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load integrations")
	}
	return c.JSON(fiber.Map{"integrations": integrations})
}

func (d *DashboardController) ownedIntegration(c *fiber.Ctx) (*models.Integration, error) {
	integration, err := d.backend.Repos.Integration.GetForUser(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, jsonError(c, fiber.StatusNotFound, "Integration not found")
		}
		return nil, jsonError(c, fiber.StatusInternalServerError, "Failed to load integration")
	}
	return integration, nil
}

// HandleRetryIntegration clears the error state of an integration.
func (d *DashboardController) HandleRetryIntegration(c *fiber.Ctx) error {
	integration, err := d.ownedIntegration(c)
	if integration == nil {
		return err
	}
	if !integration.IsErrored() {
		return jsonError(c, fiber.StatusConflict, "Integration is not in an error state")
	}
	if err := d.backend.Repos.Integration.UpdateStatus(c.UserContext(), integration.ID, models.INTEGRATION_ACTIVE, ""); err != nil {
		log.Errorf("[Dashboard] failed to retry integration %s: %v", integration.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to update integration")
	}
	logActivity(c, d.backend, integration.UserID, "Integration retried", fiber.Map{"integrationId": integration.ID, "name": integration.Name})
	integration.Status, integration.ErrorMessage = models.INTEGRATION_ACTIVE, ""
	return c.JSON(fiber.Map{"integration": integration})
}

// HandleToggleIntegration switches between Active and Inactive.
func (d *DashboardController) HandleToggleIntegration(c *fiber.Ctx) error {
	integration, err := d.ownedIntegration(c)
	if integration == nil {
		return err
	}
	next := models.INTEGRATION_INACTIVE
	switch integration.Status {
	case models.INTEGRATION_ACTIVE:
	case models.INTEGRATION_INACTIVE:
		next = models.INTEGRATION_ACTIVE
	default:
		return jsonError(c, fiber.StatusConflict, "Retry the integration before toggling it")
	}
	if err := d.backend.Repos.Integration.UpdateStatus(c.UserContext(), integration.ID, next, ""); err != nil {
		log.Errorf("[Dashboard] failed to toggle integration %s: %v", integration.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to update integration")
	}
	action := "Integration paused"
	if next == models.INTEGRATION_ACTIVE {
		action = "Integration resumed"
	}
	logActivity(c, d.backend, integration.UserID, action, fiber.Map{"integrationId": integration.ID, "name": integration.Name})
	integration.Status = next
	return c.JSON(fiber.Map{"integration": integration})
}

func (d *DashboardController) HandleIntegrationErrors(c *fiber.Ctx) error {
	integration, err := d.ownedIntegration(c)
	if integration == nil {
		return err
	}
	logs, err := d.backend.Repos.ErrorLog.ListByIntegration(c.UserContext(), integration.ID, 50)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load error logs")
	}
	return c.JSON(fiber.Map{"errors": logs})
}

func (d *DashboardController) HandleActivity(c *fiber.Ctx) error {
	entries, err := d.backend.Repos.Activity.Recent(c.UserContext(), currentUserID(c), dashboard.ActivityLimit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load activity")
	}
	return c.JSON(fiber.Map{"activity": entries})
}
