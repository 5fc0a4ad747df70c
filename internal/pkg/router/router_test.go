package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SyncFox/app/controllers"
	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/billing"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
	"github.com/ManuelReschke/SyncFox/internal/pkg/session"
	"github.com/ManuelReschke/SyncFox/internal/pkg/testdb"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

var pathParam = regexp.MustCompile(`:([A-Za-z]+)`)

func newTestApp(t *testing.T, opts Options) *fiber.App {
	t.Helper()
	app, _ := newTestAppWithDB(t, opts)
	return app
}

func newTestAppWithDB(t *testing.T, opts Options) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := testdb.Open(t)
	b := backend.FromDB(db, realtime.NewMemoryHub())
	session.NewMemorySessionStore()

	ctrls := controllers.New(controllers.Deps{
		Backend: b,
		Billing: billing.NewServiceFromDB(db, nil, billing.StripeConfig{}),
	})
	app := fiber.New()
	InstallRouter(app, ctrls, b, opts)
	return app, db
}

func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
}

func TestEveryAPIRouteIsDocumented(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIPath)
	require.NoError(t, err)

	app := newTestApp(t, Options{})
	for _, r := range app.GetRoutes(true) {
		if !strings.HasPrefix(r.Path, "/api/") || r.Method == fiber.MethodHead || r.Path == "/api/" {
			continue
		}
		path := strings.TrimSuffix(strings.TrimPrefix(r.Path, "/api"), "/")
		path = pathParam.ReplaceAllString(path, "{$1}")

		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "%s %s is not documented", r.Method, r.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "%s %s is not documented", r.Method, r.Path)
	}
}

func TestRateLimitSkipsWebhooks(t *testing.T) {
	app, db := newTestAppWithDB(t, Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/plans", nil))
		require.NoError(t, err)
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// billing is not configured here, the request still gets past the limiter
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader("{}")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	user := testdb.CreateUser(t, db, "limits@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, db, user.ID, "Burst")
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/webhook?integrationId="+integration.ID,
			strings.NewReader(`{"event_type":"contact.created"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var rows int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Where("integration_id = ?", integration.ID).Count(&rows).Error)
	assert.EqualValues(t, 3, rows)
}

func TestConnectRequiresLogin(t *testing.T) {
	app := newTestApp(t, Options{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/connect/salesforce?side=source", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasSuffix(resp.Header.Get("Location"), "/login"))
}
