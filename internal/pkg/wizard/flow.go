package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/app/models"
)

const minAPIKeyLength = 16

// Credential is an authorization obtained for one platform.
type Credential struct {
	Provider       string
	ProviderUserID string
	Secret         string
	RefreshSecret  string
	ExpiresAt      *time.Time
}

// KeyValidator checks an API key with the platform that issued it.
type KeyValidator interface {
	ValidateKey(ctx context.Context, platform Platform, key string) error
}

// CredentialStore persists credentials sealed at rest.
type CredentialStore interface {
	Store(ctx context.Context, userID uint, cred Credential) (uint, error)
	Load(ctx context.Context, userID, accountID uint) (Credential, error)
}

// ConnectivityTester probes a platform with a stored credential.
type ConnectivityTester interface {
	Test(ctx context.Context, platform Platform, cred Credential) error
}

// IntegrationCreator writes the integration within the owner's quota and
// links the credentials used to set it up.
type IntegrationCreator interface {
	Create(ctx context.Context, integration *models.Integration) error
	LinkCredentials(ctx context.Context, userID uint, accountIDs []uint, integrationID string) error
}

// ActivityLogger appends to the user's activity log.
type ActivityLogger interface {
	LogActivity(ctx context.Context, userID uint, action string, details any)
}

// Flow runs the wizard steps that talk to the outside world.
type Flow struct {
	keys        KeyValidator
	credentials CredentialStore
	tester      ConnectivityTester
	creator     IntegrationCreator
	activity    ActivityLogger
}

func NewFlow(keys KeyValidator, credentials CredentialStore, tester ConnectivityTester, creator IntegrationCreator, activity ActivityLogger) *Flow {
	return &Flow{keys: keys, credentials: credentials, tester: tester, creator: creator, activity: activity}
}

// Authenticate authorizes an API key side. Failures stay in the current step
// with the message kept in LastError.
func (f *Flow) Authenticate(ctx context.Context, st *State, userID uint, side Side, key string) error {
	if err := st.expect(StepAuthenticate); err != nil {
		return err
	}
	p, ok := st.Platform(side)
	if !ok {
		return ErrUnknownPlatform
	}
	if p.UsesOAuth() {
		return ErrInvalidTransition
	}

	key = strings.TrimSpace(key)
	if len(key) < minAPIKeyLength {
		return st.fail(fmt.Errorf("%w: must be at least %d characters", ErrInvalidKey, minAPIKeyLength))
	}
	if err := f.keys.ValidateKey(ctx, p, key); err != nil {
		return st.fail(fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}

	return f.storeAndMark(ctx, st, userID, side, Credential{Provider: p.Key, Secret: key})
}

// CompleteOAuth stores a credential returned by an OAuth callback for the
// side whose platform uses provider.
func (f *Flow) CompleteOAuth(ctx context.Context, st *State, userID uint, side Side, cred Credential) error {
	if err := st.expect(StepAuthenticate); err != nil {
		return err
	}
	p, ok := st.Platform(side)
	if !ok {
		return ErrUnknownPlatform
	}
	if !p.UsesOAuth() || p.Provider != cred.Provider {
		return ErrInvalidTransition
	}
	cred.Provider = p.Key
	return f.storeAndMark(ctx, st, userID, side, cred)
}

func (f *Flow) storeAndMark(ctx context.Context, st *State, userID uint, side Side, cred Credential) error {
	id, err := f.credentials.Store(ctx, userID, cred)
	if err != nil {
		log.Errorf("[Wizard] failed to store %s credential for user %d: %v", cred.Provider, userID, err)
		return st.fail(fmt.Errorf("failed to store credentials: %w", err))
	}
	return st.MarkAuthorized(side, id)
}

// RunTest checks connectivity to the target platform. A passing test moves the
// wizard to Complete; a failing one can be retried.
func (f *Flow) RunTest(ctx context.Context, st *State, userID uint) error {
	if err := st.expect(StepTestIntegration); err != nil {
		return err
	}
	p, ok := st.Platform(SideTarget)
	if !ok {
		return ErrUnknownPlatform
	}

	cred, err := f.credentials.Load(ctx, userID, st.Target.AccountID)
	if err == nil {
		err = f.tester.Test(ctx, p, cred)
	}
	st.recordTest(err)

	details := map[string]any{"source": st.Source.Platform, "target": st.Target.Platform}
	if err != nil {
		details["error"] = err.Error()
		f.activity.LogActivity(ctx, userID, "Integration test failed", details)
		log.Warnf("[Wizard] connectivity test for user %d failed: %v", userID, err)
		return err
	}
	f.activity.LogActivity(ctx, userID, "Integration test passed", details)
	return nil
}

// Finish creates the integration. A quota rejection returns ErrQuotaExceeded
// and writes nothing; other errors leave the wizard as it was.
func (f *Flow) Finish(ctx context.Context, st *State, userID uint, name string) (*models.Integration, error) {
	if st.Finished() {
		return nil, ErrAlreadyFinished
	}
	if err := st.expect(StepComplete); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		src, _ := st.Platform(SideSource)
		dst, _ := st.Platform(SideTarget)
		name = fmt.Sprintf("%s to %s", src.Name, dst.Name)
	}

	integration := &models.Integration{
		UserID:         userID,
		Name:           name,
		Platform:       st.Source.Platform,
		TargetPlatform: st.Target.Platform,
		FieldMappings:  append([]models.FieldMapping(nil), st.Mappings...),
		Status:         models.INTEGRATION_ACTIVE,
	}
	if err := f.creator.Create(ctx, integration); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, st.fail(ErrQuotaExceeded)
		}
		log.Errorf("[Wizard] failed to create integration for user %d: %v", userID, err)
		return nil, st.fail(fmt.Errorf("failed to create integration: %w", err))
	}

	if err := f.creator.LinkCredentials(ctx, userID, st.AccountIDs(), integration.ID); err != nil {
		log.Errorf("[Wizard] failed to link credentials to integration %s: %v", integration.ID, err)
	}

	st.IntegrationID = integration.ID
	st.LastError = ""
	f.activity.LogActivity(ctx, userID, "Integration created", map[string]any{
		"integrationId": integration.ID,
		"name":          integration.Name,
		"source":        integration.Platform,
		"target":        integration.TargetPlatform,
	})
	return integration, nil
}
