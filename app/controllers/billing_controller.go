package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/billing"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
)

type BillingController struct {
	backend *backend.Backend
	billing *billing.Service
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
	// UserID is accepted as string or number and must match the session.
	UserID any `json:"userId"`
}

// HandleStripeWebhook verifies and applies a Stripe event. Nothing is written
// before the signature checks out.
func (b *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	event, err := b.billing.VerifyEvent(payload, c.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			log.Error("[Billing] stripe webhook received but STRIPE_WEBHOOK_SECRET is not set")
			return jsonError(c, fiber.StatusServiceUnavailable, "Billing is not configured")
		}
		log.Warnf("[Billing] rejected stripe webhook: %v", err)
		return jsonError(c, fiber.StatusBadRequest, fmt.Sprintf("Webhook Error: %v", err))
	}

	out, err := b.billing.HandleEvent(c.UserContext(), event, payload)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownCustomer) {
			log.Warnf("[Billing] %s for unknown customer: %v", event.Type, err)
			return jsonError(c, fiber.StatusNotFound, "user not found")
		}
		log.Errorf("[Billing] failed to process %s (%s): %v", event.Type, event.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to process webhook")
	}

	if out.Duplicate {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}
	if out.UserID != 0 && !out.Ignored {
		logActivity(c, b.backend, out.UserID, "Subscription updated", fiber.Map{"event": out.EventType})
	}
	return c.JSON(fiber.Map{"received": true})
}

// HandleCreateCheckoutSession starts a Stripe checkout for the session user.
func (b *BillingController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	userID := currentUserID(c)
	if req.UserID != nil && !sameUser(req.UserID, userID) {
		return jsonError(c, fiber.StatusForbidden, "userId does not match the logged in user")
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	if req.PriceID == "" {
		return jsonError(c, fiber.StatusBadRequest, "Price ID is required")
	}

	ctx := c.UserContext()
	user, err := b.backend.GetUser(ctx, userID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load user")
	}

	sessionID, err := b.billing.CreateCheckoutSession(ctx, user, req.PriceID, c.Get(fiber.HeaderOrigin))
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPrice) {
			return jsonError(c, fiber.StatusBadRequest, "Unknown price ID")
		}
		log.Errorf("[Billing] checkout for user %d failed: %v", userID, err)
		logActivity(c, b.backend, userID, "Error creating checkout session", fiber.Map{"error": err.Error()})
		return jsonError(c, fiber.StatusInternalServerError, err.Error())
	}

	logActivity(c, b.backend, userID, "Initiated subscription change", fiber.Map{"priceId": req.PriceID})
	return c.JSON(fiber.Map{"id": sessionID})
}

func sameUser(claimed any, userID uint) bool {
	want := strconv.FormatUint(uint64(userID), 10)
	switch v := claimed.(type) {
	case string:
		return strings.TrimSpace(v) == want
	case float64:
		return v == float64(userID)
	}
	return false
}

// HandlePlans lists the purchasable plans and the publishable key.
func (b *BillingController) HandlePlans(c *fiber.Ctx) error {
	cfg := b.billing.Config()
	return c.JSON(fiber.Map{
		"plans":          entitlements.Catalog(cfg.PriceIDs),
		"publishableKey": cfg.PublishableKey,
	})
}
