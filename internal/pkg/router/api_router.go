package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/internal/pkg/middleware"
)

const defaultRateLimit = 120

type ApiRouter struct {
	ctrls *controllers.Controllers
	opts  Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", h.cors(), h.limiter())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// public
	api.Post("/auth/signup", h.ctrls.Auth.HandleSignup)
	api.Post("/auth/login", h.ctrls.Auth.HandleLogin)
	api.Post("/auth/logout", h.ctrls.Auth.HandleLogout)
	api.Post("/webhook", h.ctrls.Webhook.HandleWebhook)
	api.Post("/stripe-webhook", h.ctrls.Billing.HandleStripeWebhook)
	api.Get("/plans", h.ctrls.Billing.HandlePlans)

	// session protected
	auth := api.Group("", middleware.RequireAPISessionAuth)
	auth.Post("/create-checkout-session", h.ctrls.Billing.HandleCreateCheckoutSession)

	auth.Get("/user", h.ctrls.User.HandleGetUser)
	auth.Put("/user/profile", h.ctrls.User.HandleUpdateProfile)
	auth.Post("/user/avatar", h.ctrls.User.HandleUploadAvatar)

	auth.Get("/dashboard", h.ctrls.Dashboard.HandleDashboard)
	auth.Get("/dashboard/stream", h.ctrls.Dashboard.HandleStream)
	auth.Get("/activity", h.ctrls.Dashboard.HandleActivity)
	auth.Get("/integrations", h.ctrls.Dashboard.HandleListIntegrations)
	auth.Post("/integrations/:id/retry", h.ctrls.Dashboard.HandleRetryIntegration)
	auth.Post("/integrations/:id/toggle", h.ctrls.Dashboard.HandleToggleIntegration)
	auth.Get("/integrations/:id/errors", h.ctrls.Dashboard.HandleIntegrationErrors)

	wz := auth.Group("/wizard")
	wz.Get("/", h.ctrls.Wizard.HandleGetWizard)
	wz.Post("/platforms", h.ctrls.Wizard.HandleSelectPlatforms)
	wz.Post("/authenticate", h.ctrls.Wizard.HandleAuthenticate)
	wz.Post("/mappings", h.ctrls.Wizard.HandleDropField)
	wz.Delete("/mappings/:source", h.ctrls.Wizard.HandleRemoveMapping)
	wz.Post("/continue", h.ctrls.Wizard.HandleContinue)
	wz.Post("/test", h.ctrls.Wizard.HandleRunTest)
	wz.Post("/finish", h.ctrls.Wizard.HandleFinish)
	wz.Post("/close", h.ctrls.Wizard.HandleClose)
	wz.Post("/cancel", h.ctrls.Wizard.HandleCancel)
}

func (h ApiRouter) cors() fiber.Handler {
	origin := strings.TrimRight(h.opts.FrontendOrigin, "/")
	if origin == "" {
		return cors.New()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origin,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Stripe-Signature",
	})
}

func (h ApiRouter) limiter() fiber.Handler {
	max := h.opts.RateLimit
	if max <= 0 {
		max = defaultRateLimit
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    h.opts.LimiterStorage,
		Next: func(c *fiber.Ctx) bool {
			return isWebhookPath(c.Path())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
		},
	})
}

// isWebhookPath matches the inbound callbacks. Platforms and Stripe deliver from
// a few shared addresses and every delivery has to be recorded.
func isWebhookPath(path string) bool {
	switch strings.TrimSuffix(path, "/") {
	case "/api/webhook", "/api/stripe-webhook":
		return true
	}
	return false
}

func NewApiRouter(ctrls *controllers.Controllers, opts Options) *ApiRouter {
	return &ApiRouter{ctrls: ctrls, opts: opts}
}
