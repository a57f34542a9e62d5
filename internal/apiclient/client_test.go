package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/auth"
	"medassoc/internal/email"
	"medassoc/internal/registration"
	"medassoc/internal/security"
	"medassoc/internal/testutil"
)

func validForm() registration.Form {
	return registration.Form{
		AccountType:     "individual",
		TierID:          "associate",
		Username:        "chidi",
		Email:           "chidi@example.com",
		Password:        "longpassword",
		ConfirmPassword: "longpassword",
		FirstName:       "Chidi",
		LastName:        "Okeke",
		Country:         "Nigeria",
	}
}

// countingServer answers every request with status and body, counting calls
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/csrf-token" {
			json.NewEncoder(w).Encode(map[string]string{"csrf_token": "tok"})
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestInvalidEmailBlockedBeforeRequest(t *testing.T) {
	srv, calls := countingServer(t, http.StatusCreated, `{}`)
	c := New(srv.URL, srv.Client())

	form := validForm()
	form.Email = "not-an-email"
	out := c.RegisterUser(context.Background(), form)

	assert.False(t, out.Success)
	assert.Equal(t, TitleInvalidEmail, out.Title)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestOtherLocalErrorsBlockedBeforeRequest(t *testing.T) {
	srv, calls := countingServer(t, http.StatusCreated, `{}`)
	c := New(srv.URL, srv.Client())

	form := validForm()
	form.ConfirmPassword = "different"
	out := c.RegisterUser(context.Background(), form)

	assert.Equal(t, TitleInvalidDetails, out.Title)
	assert.Equal(t, []string{"Passwords do not match"}, out.FieldErrors["confirm_password"])
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestDescribeFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		title  string
	}{
		{"email conflict", http.StatusConflict, `{"errors":{"email":["Email already registered"]}}`, TitleEmailRegistered},
		{"username conflict", http.StatusConflict, `{"errors":{"username":["Username taken"]}}`, TitleUsernameTaken},
		{"both conflict", http.StatusConflict, `{"errors":{"email":["x"],"username":["y"]}}`, TitleEmailRegistered},
		{"invalid email format", http.StatusBadRequest, `{"errors":{"email":["Enter a valid email address"]}}`, TitleInvalidDetails},
		{"other validation", http.StatusBadRequest, `{"errors":{"tier_id":["Unknown membership category"]}}`, TitleInvalidDetails},
		{"server error", http.StatusInternalServerError, `{"code":"internal_error","message":"Registration failed"}`, TitleFailed},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, TitleFailed},
		{"empty", http.StatusInternalServerError, ``, TitleFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DescribeFailure(tt.status, []byte(tt.body))
			assert.False(t, out.Success)
			assert.Equal(t, tt.title, out.Title)
		})
	}
}

func TestGenericFailureNeverClaimsEmailRegistered(t *testing.T) {
	srv, _ := countingServer(t, http.StatusServiceUnavailable, `{"code":"unavailable"}`)
	out := New(srv.URL, srv.Client()).RegisterUser(context.Background(), validForm())
	assert.Equal(t, TitleFailed, out.Title)
	assert.NotContains(t, out.Message, "already")

	// Unreachable server
	srv.Close()
	out = New(srv.URL, nil).RegisterUser(context.Background(), validForm())
	assert.Equal(t, TitleFailed, out.Title)
}

func TestRegisterAgainstServer(t *testing.T) {
	suite := testutil.NewTestSuite(t)
	email.ResetMockOutbox()
	h := registration.NewHandler(suite.Catalog, email.EmailConfig{MockMode: true, SendConfirmations: true}, "http://site.test", true)

	r := mux.NewRouter()
	r.HandleFunc("/api/csrf-token", security.CSRFTokenHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/register", h.Register).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client())
	out := c.RegisterUser(context.Background(), validForm())
	require.True(t, out.Success, "%+v", out)
	assert.Contains(t, out.RedirectURL, "/verify-email")
	assert.Regexp(t, `^MA-\d{4}-\d{6}$`, out.MembershipNumber)

	again := validForm()
	again.Username = "someone-else"
	out = c.RegisterUser(context.Background(), again)
	assert.Equal(t, TitleEmailRegistered, out.Title)

	other := validForm()
	other.Email = "different@example.com"
	out = c.RegisterUser(context.Background(), other)
	assert.Equal(t, TitleUsernameTaken, out.Title)
}

func TestResetPasswordEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/admin/password/reset" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"invalid_token","message":"Reset link is invalid or has expired"}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, srv.Client())

	out := c.ResetPassword(context.Background(), auth.AccountUser, "tok", "new-password", "new-password")
	assert.True(t, out.Success)

	out = c.ResetPassword(context.Background(), auth.AccountAdmin, "tok", "new-password", "new-password")
	assert.False(t, out.Success)
	assert.Equal(t, "Reset link is invalid or has expired", out.Message)

	out = c.ResetPassword(context.Background(), auth.AccountUser, "tok", "new-password", "other")
	assert.Contains(t, out.FieldErrors, "confirm_password")

	assert.Equal(t, []string{"/api/password/reset", "/api/admin/password/reset"}, paths)
}
