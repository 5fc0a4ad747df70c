package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/middleware"
)

type HttpRouter struct {
	ctrls   *controllers.Controllers
	backend *backend.Backend
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContext(h.backend))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// sign-in
	app.Get("/auth/:provider", h.ctrls.Auth.HandleOAuthBegin)
	app.Get("/auth/:provider/callback", h.ctrls.Auth.HandleOAuthCallback)

	// platform authorization from the wizard
	connect := app.Group("/connect", middleware.RequireAuth)
	connect.Get("/:provider", h.ctrls.Wizard.HandleConnect)
	connect.Get("/:provider/callback", h.ctrls.Wizard.HandleConnectCallback)
}

func NewHttpRouter(ctrls *controllers.Controllers, b *backend.Backend) *HttpRouter {
	return &HttpRouter{ctrls: ctrls, backend: b}
}
