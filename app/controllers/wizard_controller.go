package controllers

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
	"github.com/ManuelReschke/SyncFox/internal/pkg/wizard"
)

const (
	wizardSessionKey    = "wizard_state"
	wizardOAuthSideKey  = "wizard_oauth_side"
	wizardFrontendRoute = "/integrations/new"
)

type WizardController struct {
	backend  *backend.Backend
	flow     *wizard.Flow
	frontend string
}

// loadWizard returns the wizard kept in the session or a new one.
func loadWizard(c *fiber.Ctx) *wizard.State {
	st := wizard.New()
	if !session.GetJSON(c, wizardSessionKey, st) || st.Step == "" {
		return wizard.New()
	}
	return st
}

func saveWizard(c *fiber.Ctx, st *wizard.State) {
	var err error
	if st.Step == wizard.StepClosed {
		err = session.Delete(c, wizardSessionKey)
	} else {
		err = session.SetJSON(c, wizardSessionKey, st)
	}
	if err != nil {
		log.Errorf("[Wizard] failed to persist wizard state: %v", err)
	}
}

func wizardStatus(err error) int {
	switch {
	case errors.Is(err, wizard.ErrQuotaExceeded):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, wizard.ErrInvalidTransition), errors.Is(err, wizard.ErrAlreadyFinished):
		return fiber.StatusConflict
	case errors.Is(err, wizard.ErrUnknownPlatform),
		errors.Is(err, wizard.ErrUnknownSide),
		errors.Is(err, wizard.ErrUnknownField),
		errors.Is(err, wizard.ErrNoMappings),
		errors.Is(err, wizard.ErrInvalidKey):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// respond saves the state and answers with it, adding the error if any.
func (w *WizardController) respond(c *fiber.Ctx, st *wizard.State, err error) error {
	saveWizard(c, st)
	if err != nil {
		status := wizardStatus(err)
		msg := err.Error()
		if status == fiber.StatusInternalServerError {
			log.Errorf("[Wizard] user %d: %v", currentUserID(c), err)
			msg = "Something went wrong, please try again"
		}
		return c.Status(status).JSON(fiber.Map{"error": msg, "state": st})
	}
	return c.JSON(fiber.Map{"state": st})
}

func (w *WizardController) HandleGetWizard(c *fiber.Ctx) error {
	st := loadWizard(c)
	return c.JSON(fiber.Map{
		"state":    st,
		"catalog":  wizard.Catalog(),
		"unmapped": fiber.Map{"source": st.Unmapped(wizard.SideSource), "target": st.Unmapped(wizard.SideTarget)},
	})
}

type selectPlatformsRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (w *WizardController) HandleSelectPlatforms(c *fiber.Ctx) error {
	var req selectPlatformsRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	st := loadWizard(c)
	return w.respond(c, st, st.SelectPlatforms(req.Source, req.Target))
}

type authenticateRequest struct {
	Side   string `json:"side"`
	APIKey string `json:"apiKey"`
}

func (w *WizardController) HandleAuthenticate(c *fiber.Ctx) error {
	var req authenticateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	side, err := wizard.ParseSide(req.Side)
	st := loadWizard(c)
	if err != nil {
		return w.respond(c, st, err)
	}
	return w.respond(c, st, w.flow.Authenticate(c.UserContext(), st, currentUserID(c), side, req.APIKey))
}

type dropFieldRequest struct {
	Side  string `json:"side"`
	Field string `json:"field"`
}

func (w *WizardController) HandleDropField(c *fiber.Ctx) error {
	var req dropFieldRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	side, err := wizard.ParseSide(req.Side)
	st := loadWizard(c)
	if err != nil {
		return w.respond(c, st, err)
	}
	return w.respond(c, st, st.DropField(side, req.Field))
}

func (w *WizardController) HandleRemoveMapping(c *fiber.Ctx) error {
	source, err := url.PathUnescape(c.Params("source"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid field")
	}
	st := loadWizard(c)
	return w.respond(c, st, st.RemoveMapping(source))
}

func (w *WizardController) HandleContinue(c *fiber.Ctx) error {
	st := loadWizard(c)
	return w.respond(c, st, st.ContinueToTest())
}

// HandleRunTest answers 200 for a failed connectivity test; the outcome is
// carried in the state so the client can offer a retry.
func (w *WizardController) HandleRunTest(c *fiber.Ctx) error {
	st := loadWizard(c)
	err := w.flow.RunTest(c.UserContext(), st, currentUserID(c))
	if err != nil && (errors.Is(err, wizard.ErrInvalidTransition) || errors.Is(err, wizard.ErrUnknownPlatform)) {
		return w.respond(c, st, err)
	}
	saveWizard(c, st)
	return c.JSON(fiber.Map{"state": st, "passed": st.TestPassed})
}

type finishRequest struct {
	Name string `json:"name"`
}

func (w *WizardController) HandleFinish(c *fiber.Ctx) error {
	var req finishRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}
	st := loadWizard(c)
	integration, err := w.flow.Finish(c.UserContext(), st, currentUserID(c), req.Name)
	if err != nil {
		return w.respond(c, st, err)
	}
	saveWizard(c, st)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"state": st, "integration": integration})
}

func (w *WizardController) HandleClose(c *fiber.Ctx) error {
	st := loadWizard(c)
	return w.respond(c, st, st.Close())
}

func (w *WizardController) HandleCancel(c *fiber.Ctx) error {
	st := loadWizard(c)
	return w.respond(c, st, st.Cancel())
}

// HandleConnect starts the OAuth authorization of one wizard side.
func (w *WizardController) HandleConnect(c *fiber.Ctx) error {
	side, err := wizard.ParseSide(c.Query("side"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	st := loadWizard(c)
	p, ok := st.Platform(side)
	if !ok || st.Step != wizard.StepAuthenticate || !p.UsesOAuth() || p.Provider != c.Params("provider") {
		return jsonError(c, fiber.StatusConflict, wizard.ErrInvalidTransition.Error())
	}
	if err := session.SetSessionValue(c, wizardOAuthSideKey, string(side)); err != nil {
		log.Errorf("[Wizard] failed to remember oauth side: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "Failed to start authorization")
	}
	return gothfiber.BeginAuthHandler(c)
}

// HandleConnectCallback stores the platform token and returns to the wizard.
func (w *WizardController) HandleConnectCallback(c *fiber.Ctx) error {
	back := w.frontend + wizardFrontendRoute

	side, err := wizard.ParseSide(session.GetSessionValue(c, wizardOAuthSideKey))
	if err != nil {
		return c.Redirect(back+"?error=no_pending_authorization", fiber.StatusSeeOther)
	}
	_ = session.Delete(c, wizardOAuthSideKey)

	gu, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[Wizard] %s authorization failed: %v", c.Params("provider"), err)
		return c.Redirect(back+"?error=authorization_failed", fiber.StatusSeeOther)
	}

	cred := wizard.Credential{
		Provider:       gu.Provider,
		ProviderUserID: gu.UserID,
		Secret:         gu.AccessToken,
		RefreshSecret:  gu.RefreshToken,
	}
	if !gu.ExpiresAt.IsZero() {
		exp := gu.ExpiresAt.UTC().Truncate(time.Second)
		cred.ExpiresAt = &exp
	}

	st := loadWizard(c)
	if err := w.flow.CompleteOAuth(c.UserContext(), st, currentUserID(c), side, cred); err != nil {
		saveWizard(c, st)
		return c.Redirect(back+"?error="+url.QueryEscape(strings.ToLower(err.Error())), fiber.StatusSeeOther)
	}
	saveWizard(c, st)
	return c.Redirect(back, fiber.StatusSeeOther)
}
