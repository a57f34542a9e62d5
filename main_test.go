package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/auth"
	"medassoc/internal/content"
	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/events"
	"medassoc/internal/middleware"
	"medassoc/internal/security"
	"medassoc/internal/testutil"
)

func testApp(t *testing.T) (*App, *auth.TokenService, *testutil.TestSuite) {
	t.Helper()
	suite := testutil.NewTestSuite(t)
	site := content.NewService()
	require.NoError(t, site.Load(""))

	tokens := auth.NewTokenService("router-secret", time.Hour)
	svc := services{
		catalog: suite.Catalog,
		content: site,
		tokens:  tokens,
		mail:    email.EmailConfig{MockMode: true},
		limiter: security.NewMemoryLimiter(100, time.Minute),
	}
	return &App{router: routes(svc)}, tokens, suite
}

func staffToken(t *testing.T, tokens *auth.TokenService, a data.Admin) string {
	t.Helper()
	token, _, err := tokens.Issue(middleware.Principal{ID: a.ID, Email: a.Email, Name: a.Name, Role: a.Role})
	require.NoError(t, err)
	return token
}

func TestAdminAccountsRouteIsNotAnEventKind(t *testing.T) {
	app, tokens, suite := testApp(t)
	super := suite.SeedAdmin(t, "root@example.com", data.RoleSuperAdmin, "longpassword")
	staff := suite.SeedAdmin(t, "staff@example.com", data.RoleAdmin, "longpassword")

	rec := testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/admin/admins", nil, staffToken(t, tokens, super))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Count int `json:"count"`
	}
	testutil.Decode(t, rec, &list)
	assert.Equal(t, 2, list.Count)

	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/admin/admins", nil, staffToken(t, tokens, staff))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/admin/webinars", nil, staffToken(t, tokens, staff))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicRoutes(t *testing.T) {
	app, _, suite := testApp(t)
	suite.SeedEvent(t, data.KindWebinar, "Sepsis update", events.StatusPlanning, time.Now().AddDate(0, 0, 3))

	rec := testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/events?q=sepsis", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sepsis update")

	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/membership/tiers", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status  string                 `json:"status"`
		Catalog map[string]interface{} `json:"catalog"`
		Content map[string]interface{} `json:"content"`
	}
	testutil.Decode(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.NotZero(t, health.Catalog["tiers"])
	assert.Contains(t, health.Content, "news")

	require.NoError(t, data.CloseDB())
	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoutesAnswerJSON(t *testing.T) {
	app, _, _ := testApp(t)

	rec := testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := testutil.Decode(t, rec, nil)
	assert.Equal(t, "not_found", env.Code)

	rec = testutil.DoJSON(t, app.Handler(), http.MethodDelete, "/api/membership/tiers", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = testutil.DoJSON(t, app.Handler(), http.MethodGet, "/api/portal/dashboard", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPreflightAnsweredBeforeRouting(t *testing.T) {
	app, _, _ := testApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/register", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
