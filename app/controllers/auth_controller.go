package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/oauth"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
)

const loginFailedMessage = "invalid email or password"

type AuthController struct {
	backend  *backend.Backend
	captcha  CaptchaVerifier
	frontend string
}

type signupRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=150"`
	Email        string `json:"email" validate:"required,email,max=200"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	CaptchaToken string `json:"captchaToken"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleSignup creates a free-tier account and logs it in.
func (a *AuthController) HandleSignup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if fields := validateStruct(req); fields != nil {
		return validationError(c, fields)
	}

	ctx := c.UserContext()
	if a.captcha != nil && a.captcha.Enabled() {
		if err := a.captcha.Verify(ctx, req.CaptchaToken, c.IP()); err != nil {
			log.Warnf("[Auth] captcha rejected for %s: %v", req.Email, err)
			return jsonError(c, fiber.StatusBadRequest, "captcha verification failed")
		}
	}
	users := a.backend.Repos.User
	if _, err := users.GetByEmail(ctx, req.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "email already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Errorf("[Auth] signup lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to create account")
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := users.Create(ctx, user); err != nil {
		log.Errorf("[Auth] failed to create user %s: %v", req.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to create account")
	}

	if err := session.Login(c, user.ID, user.Name); err != nil {
		log.Errorf("[Auth] failed to start session for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to start session")
	}
	logActivity(c, a.backend, user.ID, "User signed up", fiber.Map{"email": user.Email})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// HandleLogin answers every mismatch with the same 401.
func (a *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if fields := validateStruct(req); fields != nil {
		return validationError(c, fields)
	}

	ctx := c.UserContext()
	user, err := a.backend.Repos.User.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Errorf("[Auth] login lookup failed: %v", err)
		}
		return jsonError(c, fiber.StatusUnauthorized, loginFailedMessage)
	}
	if !user.CheckPassword(req.Password) || !user.IsActive() {
		return jsonError(c, fiber.StatusUnauthorized, loginFailedMessage)
	}

	if err := a.startSession(c, user, "password"); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "Failed to start session")
	}
	return c.JSON(fiber.Map{"user": user})
}

func (a *AuthController) HandleLogout(c *fiber.Ctx) error {
	if err := session.Logout(c); err != nil {
		log.Warnf("[Auth] logout: %v", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (a *AuthController) startSession(c *fiber.Ctx, user *models.User, method string) error {
	now := time.Now()
	if err := a.backend.Repos.User.TouchLastLogin(c.UserContext(), user.ID, now); err != nil {
		log.Warnf("[Auth] failed to update last login of user %d: %v", user.ID, err)
	}
	user.LastLoginAt = &now
	if err := session.Login(c, user.ID, user.Name); err != nil {
		log.Errorf("[Auth] failed to start session for user %d: %v", user.ID, err)
		return err
	}
	logActivity(c, a.backend, user.ID, "User logged in", fiber.Map{"method": method})
	return nil
}

// HandleOAuthBegin redirects to the sign-in provider.
func (a *AuthController) HandleOAuthBegin(c *fiber.Ctx) error {
	if c.Params("provider") != oauth.LoginProvider {
		return jsonError(c, fiber.StatusNotFound, "unknown provider")
	}
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow and logs the user in
func (a *AuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	if c.Params("provider") != oauth.LoginProvider {
		return jsonError(c, fiber.StatusNotFound, "unknown provider")
	}
	gu, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[Auth] oauth callback failed: %v", err)
		return c.Redirect(a.frontend+"/login?error=oauth_failed", fiber.StatusSeeOther)
	}

	user, err := a.resolveOAuthUser(c.UserContext(), gu)
	if err != nil {
		log.Errorf("[Auth] failed to resolve %s user %s: %v", gu.Provider, gu.UserID, err)
		return c.Redirect(a.frontend+"/login?error=oauth_failed", fiber.StatusSeeOther)
	}
	if !user.IsActive() {
		return c.Redirect(a.frontend+"/login?error=inactive", fiber.StatusSeeOther)
	}
	if err := a.startSession(c, user, gu.Provider); err != nil {
		return c.Redirect(a.frontend+"/login?error=session", fiber.StatusSeeOther)
	}
	return c.Redirect(a.frontend+"/dashboard", fiber.StatusSeeOther)
}

// resolveOAuthUser finds the user linked to the identity, falls back to an
// email match and finally creates a new account.
func (a *AuthController) resolveOAuthUser(ctx context.Context, gu goth.User) (*models.User, error) {
	repos := a.backend.Repos
	account, err := repos.Account.FindLogin(ctx, gu.Provider, gu.UserID)
	if err == nil {
		return repos.User.GetByID(ctx, account.UserID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(gu.Email))
	var user *models.User
	if email != "" {
		if user, err = repos.User.GetByEmail(ctx, email); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if user == nil {
		if email == "" {
			email = fmt.Sprintf("%s_%s@%s.oauth.local", gu.Provider, gu.UserID, gu.Provider)
		}
		// the placeholder password is never used for login
		user, err = models.CreateUser(firstNonEmpty(gu.Name, gu.NickName, "User"), email, fmt.Sprintf("oauth_%d", time.Now().UnixNano()))
		if err != nil {
			return nil, err
		}
		user.AvatarURL = gu.AvatarURL
		if err := repos.User.Create(ctx, user); err != nil {
			return nil, err
		}
		_ = a.backend.LogActivity(ctx, user.ID, "User signed up", map[string]string{"provider": gu.Provider})
	}

	link := &models.ConnectedAccount{
		UserID:         user.ID,
		Purpose:        models.ACCOUNT_PURPOSE_LOGIN,
		Provider:       gu.Provider,
		ProviderUserID: gu.UserID,
	}
	if err := repos.Account.Create(ctx, link); err != nil {
		return nil, err
	}
	return user, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); len(s) >= 2 {
			return s
		}
	}
	return "User"
}
