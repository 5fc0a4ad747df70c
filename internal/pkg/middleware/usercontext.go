package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usercontext"
)

// UserContext resolves the session user for every request. The plan is read
// from the user row so a subscription change applies on the next request.
func UserContext(b *backend.Backend) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Goth keeps its own session store on /auth/*.
		if strings.HasPrefix(c.Path(), "/auth/") {
			return c.Next()
		}

		userID := session.UserID(c)
		if userID == 0 {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		user, err := b.GetUser(c.UserContext(), userID)
		if err != nil || !user.IsActive() {
			if err != nil {
				log.Warnf("[Auth] session user %d could not be loaded: %v", userID, err)
			}
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			Plan:       string(entitlements.Normalize(user.SubscriptionTier)),
		})
		return c.Next()
	}
}
