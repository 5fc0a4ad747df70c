package controllers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/billing"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
	"github.com/ManuelReschke/SyncFox/internal/pkg/router"
	"github.com/ManuelReschke/SyncFox/internal/pkg/security"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
	"github.com/ManuelReschke/SyncFox/internal/pkg/storage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/testdb"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usage"
	"github.com/ManuelReschke/SyncFox/internal/pkg/wizard"
)

const webhookSecret = "whsec_controller_test"

type stubGateway struct {
	err error
}

func (g *stubGateway) CreateCustomer(ctx context.Context, in billing.CustomerInput) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("cus_%d", in.UserID), nil
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, in billing.CheckoutInput) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "cs_test_controller", nil
}

type passingTester struct{}

func (passingTester) Test(ctx context.Context, p wizard.Platform, cred wizard.Credential) error {
	return nil
}

type callSpy struct {
	calls map[uint]int
}

func (s *callSpy) Record(ctx context.Context, userID uint) error {
	s.calls[userID]++
	return nil
}

type captchaStub struct{}

func (captchaStub) Enabled() bool { return true }

func (captchaStub) Verify(ctx context.Context, token, remoteIP string) error {
	if token != "ok" {
		return fmt.Errorf("invalid-input-response")
	}
	return nil
}

type mailSpy struct {
	mu   sync.Mutex
	sent []string
}

func (m *mailSpy) SendMail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

func (m *mailSpy) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testServer struct {
	app     *fiber.App
	db      *gorm.DB
	hub     *realtime.MemoryHub
	calls   *callSpy
	gateway *stubGateway
}

func newTestServer(t *testing.T, opts ...func(*controllers.Deps)) *testServer {
	t.Helper()

	db := testdb.Open(t)
	hub := realtime.NewMemoryHub()
	b := backend.FromDB(db, hub)
	session.NewMemorySessionStore()

	sealer, err := security.NewSealer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	gw := &stubGateway{}
	svc := billing.NewServiceFromDB(db, gw, billing.StripeConfig{
		SecretKey:     "sk_test",
		WebhookSecret: webhookSecret,
		PriceIDs: map[entitlements.Tier]string{
			entitlements.TierFree:       "price_basic",
			entitlements.TierPro:        "price_pro",
			entitlements.TierEnterprise: "price_enterprise",
		},
		ReturnBaseURL: "https://app.example.com",
	})
	require.NoError(t, svc.SeedPlanMappings(context.Background()))

	flow := wizard.NewFlow(
		wizard.FormatKeyValidator{},
		wizard.NewAccountCredentials(b.Repos.Account, sealer),
		passingTester{},
		wizard.NewRepositoryCreator(b.Repos.Integration, b.Repos.Account),
		wizard.NewActivityRecorder(b.Repos.Activity),
	)

	calls := &callSpy{calls: map[uint]int{}}
	deps := controllers.Deps{
		Backend:  b,
		Billing:  svc,
		Flow:     flow,
		Calls:    calls,
		Usage:    usage.StoredReader{Repo: b.Repos.Usage},
		Avatars:  storage.NewLocalStore(t.TempDir(), "/uploads/avatars"),
		Frontend: "https://app.example.com",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ctrls := controllers.New(deps)

	app := fiber.New()
	router.InstallRouter(app, ctrls, b, router.Options{RateLimit: 1000})
	return &testServer{app: app, db: db, hub: hub, calls: calls, gateway: gw}
}

// do sends a JSON request and decodes a JSON object answer.
func (s *testServer) do(t *testing.T, method, path string, body any, cookies []*http.Cookie, headers ...string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *testServer) login(t *testing.T, email string) []*http.Cookie {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": "password123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return resp.Cookies()
}

func (s *testServer) activity(t *testing.T, userID uint) []string {
	t.Helper()
	var entries []models.ActivityLog
	require.NoError(t, s.db.Where("user_id = ?", userID).Order("id").Find(&entries).Error)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func signed(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Ada", "email": "Ada@Example.com", "password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	user := body["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, "free", user["subscription_tier"])
	assert.NotContains(t, user, "password")

	resp, body = s.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "correct horse",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	resp, body = s.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "A", "email": "nope", "password": "x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "fields")

	resp, body = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ada@example.com", "password": "wrong password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid email or password", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ada@example.com", "password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/user", nil, resp.Cookies())
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Ada", body["name"])

	var u models.User
	require.NoError(t, s.db.Where("email = ?", "ada@example.com").First(&u).Error)
	assert.NotNil(t, u.LastLoginAt)
	assert.Equal(t, []string{"User signed up", "User logged in"}, s.activity(t, u.ID))
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/user", "/api/dashboard", "/api/wizard", "/api/integrations", "/api/activity"} {
		resp, body := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "unauthorized", body["error"], path)
	}
	resp, _ := s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]string{"priceId": "price_pro"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookIngestion(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "hooks@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, s.db, user.ID, "Shop to Sheet")

	sub, err := s.hub.Subscribe(context.Background(), realtime.WebhookEventsChannel(user.ID))
	require.NoError(t, err)
	defer sub.Close()

	resp, body := s.do(t, http.MethodPost, "/api/webhook", `{"event_type":"order.created"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Integration ID is required", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON payload", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/webhook?integrationId=does-not-exist", `{"event_type":"order.created"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Integration not found", body["error"])

	var count int64
	require.NoError(t, s.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	resp, body = s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID, `{"event_type":"order.created","order":{"id":7}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])

	var events []models.WebhookEvent
	require.NoError(t, s.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "order.created", events[0].EventType)
	assert.Equal(t, integration.ID, events[0].IntegrationID)

	var stored models.Integration
	require.NoError(t, s.db.First(&stored, "id = ?", integration.ID).Error)
	assert.NotNil(t, stored.LastSync)
	assert.Equal(t, 1, s.calls.calls[user.ID])

	select {
	case msg := <-sub.Messages():
		var published models.WebhookEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &published))
		assert.Equal(t, events[0].ID, published.ID)
	case <-time.After(time.Second):
		t.Fatal("webhook event was not published")
	}

	// no event_type falls back to "unknown"
	resp, _ = s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID, `{"foo":"bar"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var last models.WebhookEvent
	require.NoError(t, s.db.Order("id desc").First(&last).Error)
	assert.Equal(t, "unknown", last.EventType)
}

func TestWebhookFailureFlagsIntegration(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "fail@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, s.db, user.ID, "Shop to Sheet")

	resp, _ := s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID,
		`{"event_type":"sync.failed","error":{"message":"token expired","code":401}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.Integration
	require.NoError(t, s.db.First(&stored, "id = ?", integration.ID).Error)
	assert.Equal(t, models.INTEGRATION_ERROR, stored.Status)
	assert.Equal(t, "token expired", stored.ErrorMessage)

	var logs []models.ErrorLog
	require.NoError(t, s.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "401", logs[0].ErrorCode)

	cookies := s.login(t, "fail@example.com")
	resp, body := s.do(t, http.MethodGet, "/api/integrations/"+integration.ID+"/errors", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["errors"], 1)

	resp, _ = s.do(t, http.MethodPost, "/api/integrations/"+integration.ID+"/toggle", nil, cookies)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/integrations/"+integration.ID+"/retry", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NoError(t, s.db.First(&stored, "id = ?", integration.ID).Error)
	assert.Equal(t, models.INTEGRATION_ACTIVE, stored.Status)
	assert.Empty(t, stored.ErrorMessage)

	resp, _ = s.do(t, http.MethodPost, "/api/integrations/"+integration.ID+"/toggle", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, s.db.First(&stored, "id = ?", integration.ID).Error)
	assert.Equal(t, models.INTEGRATION_INACTIVE, stored.Status)
}

func TestIntegrationsAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	owner := testdb.CreateUser(t, s.db, "owner@example.com", "free", 1)
	testdb.CreateUser(t, s.db, "other@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, s.db, owner.ID, "Owned")

	cookies := s.login(t, "other@example.com")
	resp, _ := s.do(t, http.MethodPost, "/api/integrations/"+integration.ID+"/toggle", nil, cookies)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/integrations", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["integrations"])
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "sig@example.com", "pro", 5)
	require.NoError(t, s.db.Model(user).Updates(map[string]any{
		"stripe_customer_id": "cus_sig", "stripe_subscription_id": "sub_sig", "subscription_status": "active",
	}).Error)

	payload := []byte(`{"id":"evt_sig","object":"event","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_sig","object":"subscription","customer":"cus_sig","status":"canceled"}}}`)

	resp, body := s.do(t, http.MethodPost, "/api/stripe-webhook", payload, nil, "Stripe-Signature", signed(payload, "whsec_wrong"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body["error"].(string), "Webhook Error:"))

	var got models.User
	require.NoError(t, s.db.First(&got, user.ID).Error)
	assert.Equal(t, "pro", got.SubscriptionTier)
	assert.Equal(t, "active", got.SubscriptionStatus)

	var events int64
	require.NoError(t, s.db.Model(&models.BillingWebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestStripeWebhookSubscriptionDeleted(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "cancel@example.com", "pro", 5)
	require.NoError(t, s.db.Model(user).Updates(map[string]any{
		"stripe_customer_id": "cus_del", "stripe_subscription_id": "sub_del", "subscription_status": "active",
	}).Error)

	payload := []byte(`{"id":"evt_del","object":"event","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_del","object":"subscription","customer":"cus_del","status":"canceled"}}}`)

	resp, body := s.do(t, http.MethodPost, "/api/stripe-webhook", payload, nil, "Stripe-Signature", signed(payload, webhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["received"])

	var got models.User
	require.NoError(t, s.db.First(&got, user.ID).Error)
	assert.Equal(t, "free", got.SubscriptionTier)
	assert.Equal(t, 1, got.IntegrationLimit)
	assert.Equal(t, "canceled", got.SubscriptionStatus)
	assert.Contains(t, s.activity(t, user.ID), "Subscription updated")

	resp, body = s.do(t, http.MethodPost, "/api/stripe-webhook", payload, nil, "Stripe-Signature", signed(payload, webhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])
}

func TestStripeWebhookUnknownCustomer(t *testing.T) {
	s := newTestServer(t)
	payload := []byte(`{"id":"evt_ghost","object":"event","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_x","object":"subscription","customer":"cus_ghost","status":"active"}}}`)

	resp, body := s.do(t, http.MethodPost, "/api/stripe-webhook", payload, nil, "Stripe-Signature", signed(payload, webhookSecret))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "user not found", body["error"])
}

func TestCreateCheckoutSession(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "buyer@example.com", "free", 1)
	cookies := s.login(t, "buyer@example.com")

	resp, body := s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]any{"priceId": "price_pro", "userId": user.ID + 100}, cookies)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, body)

	resp, body = s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]any{"userId": fmt.Sprint(user.ID)}, cookies)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Price ID is required", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]any{"priceId": "price_unknown"}, cookies)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]any{"priceId": "price_pro", "userId": user.ID}, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "cs_test_controller", body["id"])

	s.gateway.err = fmt.Errorf("stripe is down")
	resp, _ = s.do(t, http.MethodPost, "/api/create-checkout-session", map[string]any{"priceId": "price_pro"}, cookies)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	actions := s.activity(t, user.ID)
	assert.Contains(t, actions, "Initiated subscription change")
	assert.Contains(t, actions, "Error creating checkout session")

	// the tier never changes before Stripe confirms
	var got models.User
	require.NoError(t, s.db.First(&got, user.ID).Error)
	assert.Equal(t, "free", got.SubscriptionTier)
}

// wizardUntilComplete drives HubSpot to Airtable through every step up to Complete.
func wizardUntilComplete(t *testing.T, s *testServer, cookies []*http.Cookie) {
	t.Helper()

	step := func(method, path string, body any) map[string]any {
		resp, out := s.do(t, method, path, body, cookies)
		require.Equal(t, http.StatusOK, resp.StatusCode, "%s %s: %v", method, path, out)
		return out["state"].(map[string]any)
	}

	state := step(http.MethodPost, "/api/wizard/platforms", map[string]string{"source": "hubspot", "target": "airtable"})
	assert.Equal(t, "authenticate", state["step"])
	step(http.MethodPost, "/api/wizard/authenticate", map[string]string{"side": "source", "apiKey": "hubspot-key-0123456789"})
	state = step(http.MethodPost, "/api/wizard/authenticate", map[string]string{"side": "target", "apiKey": "airtable-key-0123456789"})
	assert.Equal(t, "map_fields", state["step"])

	state = step(http.MethodPost, "/api/wizard/mappings", map[string]string{"side": "source", "field": "email"})
	assert.Len(t, state["mappings"], 1)
	state = step(http.MethodPost, "/api/wizard/continue", nil)
	assert.Equal(t, "test_integration", state["step"])

	resp, out := s.do(t, http.MethodPost, "/api/wizard/test", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["passed"])
}

func TestWizardCreatesIntegration(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "wizard@example.com", "free", 1)
	cookies := s.login(t, "wizard@example.com")

	resp, body := s.do(t, http.MethodPost, "/api/wizard/authenticate", map[string]string{"side": "source", "apiKey": "0123456789abcdef"}, cookies)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	wizardUntilComplete(t, s, cookies)

	resp, body = s.do(t, http.MethodPost, "/api/wizard/finish", nil, cookies)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	integration := body["integration"].(map[string]any)
	assert.Equal(t, "HubSpot to Airtable", integration["name"])
	assert.Equal(t, "Active", integration["status"])

	resp, _ = s.do(t, http.MethodPost, "/api/wizard/finish", nil, cookies)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/wizard/close", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", body["state"].(map[string]any)["step"])

	// a closed wizard starts over
	resp, body = s.do(t, http.MethodGet, "/api/wizard", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "select_platforms", body["state"].(map[string]any)["step"])

	var accounts []models.ConnectedAccount
	require.NoError(t, s.db.Where("user_id = ?", user.ID).Find(&accounts).Error)
	require.Len(t, accounts, 2)
	for _, a := range accounts {
		require.NotNil(t, a.IntegrationID)
		assert.Equal(t, integration["id"], *a.IntegrationID)
		assert.NotContains(t, a.Secret, "key-0123456789")
	}
	assert.Contains(t, s.activity(t, user.ID), "Integration created")
}

func TestWizardQuotaExceeded(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "full@example.com", "free", 1)
	testdb.CreateIntegration(t, s.db, user.ID, "Existing")
	cookies := s.login(t, "full@example.com")

	wizardUntilComplete(t, s, cookies)

	resp, body := s.do(t, http.MethodPost, "/api/wizard/finish", nil, cookies)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, wizard.ErrQuotaExceeded.Error(), body["error"])
	assert.Equal(t, "complete", body["state"].(map[string]any)["step"])

	var count int64
	require.NoError(t, s.db.Model(&models.Integration{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.NotContains(t, s.activity(t, user.ID), "Integration created")
}

func TestWizardCancel(t *testing.T) {
	s := newTestServer(t)
	testdb.CreateUser(t, s.db, "cancel-wizard@example.com", "free", 1)
	cookies := s.login(t, "cancel-wizard@example.com")

	resp, body := s.do(t, http.MethodPost, "/api/wizard/platforms", map[string]string{"source": "hubspot", "target": "hubspot"}, cookies)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "select_platforms", body["state"].(map[string]any)["step"])

	resp, _ = s.do(t, http.MethodPost, "/api/wizard/platforms", map[string]string{"source": "hubspot", "target": "mailchimp"}, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/wizard/cancel", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", body["state"].(map[string]any)["step"])
}

func TestDashboardSnapshot(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "dash@example.com", "pro", 5)
	integration := testdb.CreateIntegration(t, s.db, user.ID, "Shop to Sheet")
	cookies := s.login(t, "dash@example.com")

	for i := 0; i < 7; i++ {
		resp, _ := s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID, fmt.Sprintf(`{"event_type":"order.%d"}`, i), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := s.do(t, http.MethodGet, "/api/dashboard", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "pro", sub["tier"])
	assert.EqualValues(t, 1, sub["integrationCount"])
	assert.Len(t, body["integrations"], 1)

	recent := body["recentEvents"].([]any)
	require.Len(t, recent, 5)
	assert.Equal(t, "order.6", recent[0].(map[string]any)["event_type"])

	resp, body = s.do(t, http.MethodGet, "/api/activity", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["activity"])
}

func TestPlansArePublic(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/plans", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plans := body["plans"].([]any)
	require.Len(t, plans, 3)
	assert.Equal(t, "29.99", plans[1].(map[string]any)["monthly_price"])
}

func TestSignupRequiresCaptchaWhenEnabled(t *testing.T) {
	s := newTestServer(t, func(d *controllers.Deps) { d.Captcha = captchaStub{} })

	req := map[string]string{"name": "Bot", "email": "bot@example.com", "password": "correct horse"}
	resp, body := s.do(t, http.MethodPost, "/api/auth/signup", req, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "captcha verification failed", body["error"])

	req["captchaToken"] = "ok"
	resp, body = s.do(t, http.MethodPost, "/api/auth/signup", req, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, body)
}

func TestWebhookFailureNotifiesOncePerOutage(t *testing.T) {
	spy := &mailSpy{}
	s := newTestServer(t, func(d *controllers.Deps) { d.Mailer = spy })
	user := testdb.CreateUser(t, s.db, "notify@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, s.db, user.ID, "Shop to Sheet")

	for i := 0; i < 3; i++ {
		resp, _ := s.do(t, http.MethodPost, "/api/webhook?integrationId="+integration.ID, `{"event_type":"sync.failed","error":"quota hit"}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Eventually(t, func() bool { return spy.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, spy.count())
	assert.True(t, strings.HasPrefix(spy.sent[0], "notify@example.com|"))
}

func TestUploadAvatar(t *testing.T) {
	s := newTestServer(t)
	user := testdb.CreateUser(t, s.db, "face@example.com", "free", 1)
	cookies := s.login(t, "face@example.com")

	upload := func(filename string, content []byte) (*http.Response, map[string]any) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("avatar", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/user/avatar", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := s.app.Test(req, -1)
		require.NoError(t, err)
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	resp, body := upload("evil.png", []byte("<html><script>alert(1)</script></html>"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	resp, body = upload("me.png", img.Bytes())
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	url := body["avatar_url"].(string)
	assert.True(t, strings.HasPrefix(url, "/uploads/avatars/"))

	var got models.User
	require.NoError(t, s.db.First(&got, user.ID).Error)
	assert.Equal(t, url, got.AvatarURL)
	assert.Contains(t, s.activity(t, user.ID), "Avatar updated")
}

func TestGetUserFallsBackToGravatar(t *testing.T) {
	s := newTestServer(t)
	testdb.CreateUser(t, s.db, "plain@example.com", "free", 1)
	cookies := s.login(t, "plain@example.com")

	resp, body := s.do(t, http.MethodGet, "/api/user", nil, cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["avatar_url"], "gravatar.com/avatar/")
}
