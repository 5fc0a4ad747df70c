package controllers

import (
	"context"

	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/billing"
	"github.com/ManuelReschke/SyncFox/internal/pkg/dashboard"
	"github.com/ManuelReschke/SyncFox/internal/pkg/storage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/wizard"
)

// CallRecorder counts an inbound API call for a user.
type CallRecorder interface {
	Record(ctx context.Context, userID uint) error
}

// CaptchaVerifier guards the public sign-up.
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) error
}

// Mailer delivers user notifications.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Deps are the collaborators shared by all controllers.
type Deps struct {
	Backend  *backend.Backend
	Billing  *billing.Service
	Flow     *wizard.Flow
	Calls    CallRecorder
	Usage    usage.Reader
	Avatars  storage.AvatarStore
	Captcha  CaptchaVerifier
	Mailer   Mailer
	Frontend string
}

// Controllers groups the HTTP handlers by area.
type Controllers struct {
	Auth      *AuthController
	User      *UserController
	Wizard    *WizardController
	Webhook   *WebhookController
	Billing   *BillingController
	Dashboard *DashboardController
}

func New(d Deps) *Controllers {
	return &Controllers{
		Auth:      &AuthController{backend: d.Backend, captcha: d.Captcha, frontend: d.Frontend},
		User:      &UserController{backend: d.Backend, avatars: d.Avatars, usage: d.Usage},
		Wizard:    &WizardController{backend: d.Backend, flow: d.Flow, frontend: d.Frontend},
		Webhook:   &WebhookController{backend: d.Backend, calls: d.Calls, mailer: d.Mailer, frontend: d.Frontend},
		Billing:   &BillingController{backend: d.Backend, billing: d.Billing},
		Dashboard: &DashboardController{backend: d.Backend, aggregator: dashboard.NewAggregator(d.Backend, d.Usage)},
	}
}
