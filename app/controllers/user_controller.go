package controllers

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/SyncFox/internal/pkg/storage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/upload"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/utils"
)

type UserController struct {
	backend *backend.Backend
	avatars storage.AvatarStore
	usage   usage.Reader
}

type profileRequest struct {
	Name string `json:"name" validate:"required,min=2,max=150"`
}

// HandleGetUser returns the profile, subscription and limits of the session user.
func (u *UserController) HandleGetUser(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := u.backend.GetUser(ctx, currentUserID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return jsonError(c, fiber.StatusNotFound, "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load user")
	}

	count, err := u.backend.Repos.Integration.CountByUser(ctx, user.ID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to load integrations")
	}
	tier := entitlements.Normalize(user.SubscriptionTier)
	period := models.UsagePeriod(timeNow())
	calls, err := u.usage.Calls(ctx, user.ID, period)
	if err != nil {
		log.Warnf("[User] usage of user %d unavailable: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"avatar_url":    utils.AvatarURL(user.AvatarURL, user.Email, storage.AvatarSize),
		"status":        user.Status,
		"created_at":    formatTimePtr(&user.CreatedAt),
		"last_login_at": formatTimePtr(user.LastLoginAt),
		"subscription": fiber.Map{
			"tier":   tier,
			"status": user.SubscriptionStatus,
			"active": user.HasActiveSubscription(),
		},
		"limits": fiber.Map{
			"integrations":      user.IntegrationLimit,
			"integrations_used": count,
			"monthly_api_calls": entitlements.MonthlyAPICalls(tier),
			"api_calls_used":    calls,
		},
	})
}

func (u *UserController) HandleUpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if fields := validateStruct(req); fields != nil {
		return validationError(c, fields)
	}

	userID := currentUserID(c)
	if err := u.backend.Repos.User.UpdateProfile(c.UserContext(), userID, req.Name); err != nil {
		log.Errorf("[User] failed to update profile of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to update profile")
	}
	logActivity(c, u.backend, userID, "Profile updated", fiber.Map{"name": req.Name})
	return c.JSON(fiber.Map{"success": true, "name": req.Name})
}

// HandleUploadAvatar stores a square JPEG version of the uploaded image.
func (u *UserController) HandleUploadAvatar(c *fiber.Ctx) error {
	if u.avatars == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "Avatar storage is not configured")
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "avatar file is required")
	}
	if fh.Size > storage.MaxAvatarBytes {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "avatar must be at most 5 MB")
	}
	f, err := fh.Open()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "could not read avatar")
	}
	defer f.Close()

	head := make([]byte, upload.SniffLen)
	n, _ := io.ReadFull(f, head)
	if _, err := upload.ValidateImageBySniff(fh.Filename, head[:n]); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	jpeg, err := storage.ProcessAvatar(io.MultiReader(bytes.NewReader(head[:n]), f))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "avatar could not be decoded")
	}

	ctx := c.UserContext()
	userID := currentUserID(c)
	url, err := u.avatars.Save(ctx, userID, jpeg)
	if err != nil {
		log.Errorf("[User] failed to store avatar of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to store avatar")
	}
	if err := u.backend.Repos.User.UpdateAvatar(ctx, userID, url); err != nil {
		log.Errorf("[User] failed to update avatar of user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to store avatar")
	}
	logActivity(c, u.backend, userID, "Avatar updated", fiber.Map{"avatar_url": url})
	return c.JSON(fiber.Map{"avatar_url": url})
}
