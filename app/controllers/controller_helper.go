package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usercontext"
)

var validate = validator.New()

// validateStruct returns a field to message map for a failed validation.
func validateStruct(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = field + " is required"
		case "email":
			out[field] = "invalid email address"
		case "min":
			out[field] = field + " must be at least " + fe.Param() + " characters"
		case "max":
			out[field] = field + " must be at most " + fe.Param() + " characters"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

func jsonError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func validationError(c *fiber.Ctx, fields map[string]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"fields": fields,
	})
}

// logActivity records an activity entry; failures are only logged.
func logActivity(c *fiber.Ctx, b *backend.Backend, userID uint, action string, details any) {
	if err := b.LogActivity(c.UserContext(), userID, action, details); err != nil {
		log.Errorf("[Activity] failed to log %q for user %d: %v", action, userID, err)
	}
}

func currentUserID(c *fiber.Ctx) uint {
	return usercontext.GetUserID(c)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
