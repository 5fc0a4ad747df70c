package wizard

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/security"
)

// AccountCredentials keeps wizard credentials as sealed connected accounts.
type AccountCredentials struct {
	accounts repository.ConnectedAccountRepository
	sealer   *security.Sealer
}

func NewAccountCredentials(accounts repository.ConnectedAccountRepository, sealer *security.Sealer) *AccountCredentials {
	return &AccountCredentials{accounts: accounts, sealer: sealer}
}

func (a *AccountCredentials) Store(ctx context.Context, userID uint, cred Credential) (uint, error) {
	secret, err := a.sealer.Seal([]byte(cred.Secret))
	if err != nil {
		return 0, err
	}
	var refresh string
	if cred.RefreshSecret != "" {
		if refresh, err = a.sealer.Seal([]byte(cred.RefreshSecret)); err != nil {
			return 0, err
		}
	}
	account := &models.ConnectedAccount{
		UserID:         userID,
		Purpose:        models.ACCOUNT_PURPOSE_PLATFORM,
		Provider:       cred.Provider,
		ProviderUserID: cred.ProviderUserID,
		Secret:         secret,
		RefreshSecret:  refresh,
		ExpiresAt:      cred.ExpiresAt,
	}
	if err := a.accounts.Create(ctx, account); err != nil {
		return 0, err
	}
	return account.ID, nil
}

func (a *AccountCredentials) Load(ctx context.Context, userID, accountID uint) (Credential, error) {
	account, err := a.accounts.GetForUser(ctx, userID, accountID)
	if err != nil {
		return Credential{}, err
	}
	secret, err := a.sealer.Open(account.Secret)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{
		Provider:       account.Provider,
		ProviderUserID: account.ProviderUserID,
		Secret:         string(secret),
		ExpiresAt:      account.ExpiresAt,
	}
	if account.RefreshSecret != "" {
		refresh, err := a.sealer.Open(account.RefreshSecret)
		if err != nil {
			return Credential{}, err
		}
		cred.RefreshSecret = string(refresh)
	}
	return cred, nil
}

// RepositoryCreator creates integrations through the quota-checked insert.
type RepositoryCreator struct {
	integrations repository.IntegrationRepository
	accounts     repository.ConnectedAccountRepository
}

func NewRepositoryCreator(integrations repository.IntegrationRepository, accounts repository.ConnectedAccountRepository) *RepositoryCreator {
	return &RepositoryCreator{integrations: integrations, accounts: accounts}
}

func (c *RepositoryCreator) Create(ctx context.Context, integration *models.Integration) error {
	err := c.integrations.CreateWithinLimit(ctx, integration)
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return ErrQuotaExceeded
	}
	return err
}

func (c *RepositoryCreator) LinkCredentials(ctx context.Context, userID uint, accountIDs []uint, integrationID string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	return c.accounts.LinkToIntegration(ctx, userID, accountIDs, integrationID)
}

// ActivityRecorder writes activity entries and only logs failures.
type ActivityRecorder struct {
	activity repository.ActivityRepository
}

func NewActivityRecorder(activity repository.ActivityRepository) *ActivityRecorder {
	return &ActivityRecorder{activity: activity}
}

func (r *ActivityRecorder) LogActivity(ctx context.Context, userID uint, action string, details any) {
	entry := models.NewActivityLog(userID, action, details)
	if err := r.activity.Log(ctx, &entry); err != nil {
		log.Errorf("[Activity] failed to log %q for user %d: %v", action, userID, err)
	}
}

// FormatKeyValidator only rejects keys that cannot be valid for any platform.
// Checking a key against the issuing platform happens in the connectivity
// test.
type FormatKeyValidator struct{}

func (FormatKeyValidator) ValidateKey(ctx context.Context, platform Platform, key string) error {
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.New("key must not contain whitespace")
	}
	return nil
}

// HTTPTester calls the platform's connectivity URL with the credential in the
// platform's auth style and expects a 2xx answer.
type HTTPTester struct {
	client  *fasthttp.Client
	timeout time.Duration
	shop    string
}

// NewHTTPTester builds a tester. shop is the Shopify store the app is
// installed in, with or without the .myshopify.com suffix.
func NewHTTPTester(timeout time.Duration, shop string) *HTTPTester {
	return &HTTPTester{
		client: &fasthttp.Client{
			Name:                "SyncFox",
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: timeout,
		shop:    strings.TrimSuffix(strings.TrimSpace(shop), ".myshopify.com"),
	}
}

// mailchimpDataCenter returns the "us6" of "key-us6".
func mailchimpDataCenter(key string) (string, error) {
	i := strings.LastIndex(key, "-")
	if i < 0 || i == len(key)-1 {
		return "", errors.New("Mailchimp API key has no data center suffix")
	}
	return key[i+1:], nil
}

// prepare fills req with the connectivity call for platform.
func (t *HTTPTester) prepare(req *fasthttp.Request, platform Platform, cred Credential) error {
	url := platform.ConnectivityURL
	if strings.Contains(url, placeholderShop) {
		if t.shop == "" {
			return fmt.Errorf("%s shop name is not configured", platform.Name)
		}
		url = strings.ReplaceAll(url, placeholderShop, t.shop)
	}
	if strings.Contains(url, placeholderDataCenter) {
		dc, err := mailchimpDataCenter(cred.Secret)
		if err != nil {
			return err
		}
		url = strings.ReplaceAll(url, placeholderDataCenter, dc)
	}

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	switch platform.ConnectivityAuth {
	case ProbeShopifyToken:
		req.Header.Set("X-Shopify-Access-Token", cred.Secret)
	case ProbeBasicKey:
		token := base64.StdEncoding.EncodeToString([]byte("syncfox:" + cred.Secret))
		req.Header.Set(fasthttp.HeaderAuthorization, "Basic "+token)
	default:
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+cred.Secret)
	}
	return nil
}

func (t *HTTPTester) Test(ctx context.Context, platform Platform, cred Credential) error {
	if platform.ConnectivityURL == "" {
		return fmt.Errorf("%s has no connectivity endpoint", platform.Name)
	}
	if cred.ExpiresAt != nil && time.Now().After(*cred.ExpiresAt) {
		return fmt.Errorf("%s authorization expired, reconnect the account", platform.Name)
	}

	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err := t.prepare(req, platform, cred); err != nil {
		return err
	}
	if err := t.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("could not reach %s: %w", platform.Name, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("%s answered with status %d", platform.Name, code)
	}
	return nil
}
