package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Options tune the API group.
type Options struct {
	// FrontendOrigin is allowed by CORS with credentials.
	FrontendOrigin string
	// RateLimit is the number of API requests per client and minute.
	RateLimit int
	// LimiterStorage defaults to process memory when nil.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, ctrls *controllers.Controllers, b *backend.Backend, opts Options) {
	// The HttpRouter installs the UserContext middleware, the API routes
	// depend on it.
	setup(app, NewHttpRouter(ctrls, b), NewApiRouter(ctrls, opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
