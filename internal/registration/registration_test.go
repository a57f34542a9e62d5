package registration

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/security"
	"medassoc/internal/testutil"
)

func validForm() Form {
	return Form{
		AccountType:     "individual",
		TierID:          "associate",
		Username:        "ada.obi",
		Email:           "ada@example.com",
		Password:        "longpassword",
		ConfirmPassword: "longpassword",
		FirstName:       "Ada",
		LastName:        "Obi",
		Profession:      "Nurse",
		Phone:           "+234 803 000 0000",
		Country:         "Nigeria",
	}
}

func newTestHandler(t *testing.T, requireCSRF bool) *Handler {
	t.Helper()
	suite := testutil.NewTestSuite(t)
	email.ResetMockOutbox()
	cfg := email.EmailConfig{Sender: "noreply@example.com", SendConfirmations: true, MockMode: true}
	return NewHandler(suite.Catalog, cfg, "http://localhost:3000", requireCSRF)
}

func TestFormValidate(t *testing.T) {
	f := validForm()
	assert.Nil(t, f.Validate())

	f.Email = "not-an-email"
	assert.Contains(t, f.Validate(), "email")

	f = validForm()
	f.ConfirmPassword = "different"
	assert.Equal(t, []string{"Passwords do not match"}, f.Validate()["confirm_password"])

	f = validForm()
	f.AccountType = "organization"
	fields := f.Validate()
	assert.Contains(t, fields, "organization_name")
	assert.Contains(t, fields, "registration_number")
	assert.NotContains(t, fields, "first_name")

	f = validForm()
	f.Password, f.ConfirmPassword = "short", "short"
	assert.Contains(t, f.Validate(), "password")

	f = validForm()
	f.Username = "a b"
	assert.Contains(t, f.Validate(), "username")
}

func TestEmailPattern(t *testing.T) {
	assert.True(t, EmailPattern.MatchString("a@b.co"))
	assert.False(t, EmailPattern.MatchString("not-an-email"))
	assert.False(t, EmailPattern.MatchString("a b@c.de"))
	assert.False(t, EmailPattern.MatchString("a@b"))
}

func TestFormNormalize(t *testing.T) {
	f := validForm()
	f.Email = "  Ada@Example.COM "
	f.TierID = "Associate"
	f.Normalize()

	assert.Equal(t, "ada@example.com", f.Email)
	assert.Equal(t, "associate", f.TierID)
}

func TestRegisterCreatesPendingMembership(t *testing.T) {
	h := newTestHandler(t, false)

	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp registerResponse
	testutil.Decode(t, rec, &resp)
	assert.Regexp(t, `^MA-\d{4}-\d{6}$`, resp.MembershipNumber)
	assert.Equal(t, "/verify-email?email=ada%40example.com", resp.RedirectURL)
	assert.Equal(t, data.MembershipPending, resp.Status)

	member, err := data.NewMemberRepository().GetByEmail("ada@example.com")
	require.NoError(t, err)
	assert.False(t, member.Verified)
	assert.NotEqual(t, "longpassword", member.PasswordHash)

	sent := email.MockOutbox()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, member.VerificationCode)
}

func TestRegisterDuplicateEmailAndUsername(t *testing.T) {
	h := newTestHandler(t, false)
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	h.duplicates = newDuplicateGuard(duplicateThreshold)

	f := validForm()
	f.Username = "someone.else"
	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	env := testutil.Decode(t, rec, nil)
	assert.Equal(t, []string{MsgEmailTaken}, env.Errors["email"])
	assert.NotContains(t, env.Errors, "username")
	assert.Equal(t, "Registration failed", env.Message)

	f = validForm()
	f.Email = "other@example.com"
	rec = testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	env = testutil.Decode(t, rec, nil)
	assert.Equal(t, []string{MsgUsernameTaken}, env.Errors["username"])
	assert.NotContains(t, env.Errors, "email")
}

func TestRegisterRejectsQuickResubmission(t *testing.T) {
	h := newTestHandler(t, false)

	f := validForm()
	f.Email = "Ada@Example.com"
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)

	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "duplicate_submission", testutil.Decode(t, rec, nil).Code)
}

func TestRegisterValidationFailures(t *testing.T) {
	h := newTestHandler(t, false)

	f := validForm()
	f.Email = "not-an-email"
	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, testutil.Decode(t, rec, nil).Errors, "email")

	f = validForm()
	f.TierID = "institutional"
	rec = testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, testutil.Decode(t, rec, nil).Errors, "tier_id")

	f = validForm()
	f.TierID = "platinum"
	rec = testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, testutil.Decode(t, rec, nil).Errors, "tier_id")
}

func TestRegisterHoneypotAndCSRF(t *testing.T) {
	h := newTestHandler(t, true)

	f := validForm()
	f.HiddenField = "http://spam.example"
	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid_csrf_token", testutil.Decode(t, rec, nil).Code)

	f = validForm()
	f.CSRFToken = security.GenerateCSRFToken()
	rec = testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestVerifyEmailActivatesMembership(t *testing.T) {
	h := newTestHandler(t, false)
	fixed := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	code := regexp.MustCompile(`code is: (\d{6})`).FindStringSubmatch(email.MockOutbox()[0].Body)
	require.Len(t, code, 2)

	rec := testutil.DoJSON(t, http.HandlerFunc(h.VerifyEmail), http.MethodPost, "/api/verify-email",
		map[string]string{"email": "ada@example.com", "code": wrongCode(code[1])}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = testutil.DoJSON(t, http.HandlerFunc(h.VerifyEmail), http.MethodPost, "/api/verify-email",
		map[string]string{"email": "ada@example.com", "code": code[1]}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	member, err := data.NewMemberRepository().GetByEmail("ada@example.com")
	require.NoError(t, err)
	assert.True(t, member.Verified)

	ms, err := data.NewMembershipRepository().GetByMemberID(member.ID)
	require.NoError(t, err)
	assert.Equal(t, data.MembershipActive, ms.Status)
	assert.Equal(t, "40.00", ms.AmountPaid.StringFixed(2))
	require.NotNil(t, ms.ExpiresAt)
	assert.True(t, ms.ExpiresAt.Equal(fixed.AddDate(1, 0, 0)))
}

func TestResendVerificationReplacesCode(t *testing.T) {
	h := newTestHandler(t, false)
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	rec := testutil.DoJSON(t, http.HandlerFunc(h.ResendVerification), http.MethodPost, "/api/verify-email/resend",
		map[string]string{"email": "ada@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	after, err := data.NewMemberRepository().GetByEmail("ada@example.com")
	require.NoError(t, err)
	assert.Len(t, email.MockOutbox(), 2)
	assert.Contains(t, email.MockOutbox()[1].Body, after.VerificationCode)
}

func mailedCode(t *testing.T) string {
	t.Helper()
	sent := email.MockOutbox()
	require.NotEmpty(t, sent)
	code := regexp.MustCompile(`code is: (\d{6})`).FindStringSubmatch(sent[len(sent)-1].Body)
	require.Len(t, code, 2)
	return code[1]
}

func TestVerifyEmailLocksAfterRepeatedMisses(t *testing.T) {
	h := newTestHandler(t, false)
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	code := mailedCode(t)

	verify := func(c string) *httptest.ResponseRecorder {
		return testutil.DoJSON(t, http.HandlerFunc(h.VerifyEmail), http.MethodPost, "/api/verify-email",
			map[string]string{"email": "ada@example.com", "code": c}, "")
	}

	for i := 1; i < maxVerifyAttempts; i++ {
		rec := verify(wrongCode(code))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_code", testutil.Decode(t, rec, nil).Code, "attempt %d", i)
	}
	rec := verify(wrongCode(code))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "code_expired", testutil.Decode(t, rec, nil).Code)

	// The right code no longer works once the limit is hit
	rec = verify(code)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "code_expired", testutil.Decode(t, rec, nil).Code)

	rec = testutil.DoJSON(t, http.HandlerFunc(h.ResendVerification), http.MethodPost, "/api/verify-email/resend",
		map[string]string{"email": "ada@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = verify(mailedCode(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVerifyEmailLostRaceStillSucceeds(t *testing.T) {
	h := newTestHandler(t, false)
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	code := mailedCode(t)

	member, err := data.NewMemberRepository().GetByEmail("ada@example.com")
	require.NoError(t, err)
	fixed := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

	// Another request activates the member between the code check and the update
	h.now = func() time.Time {
		rec, err := data.NewMembershipRepository().GetByMemberID(member.ID)
		require.NoError(t, err)
		expires := fixed.AddDate(1, 0, 0)
		rec.Status = data.MembershipActive
		rec.StartedAt, rec.ExpiresAt, rec.UpdatedAt = &fixed, &expires, fixed
		require.NoError(t, data.NewMemberRepository().VerifyAndActivate(member.ID, fixed, *rec))
		return fixed
	}

	rec := testutil.DoJSON(t, http.HandlerFunc(h.VerifyEmail), http.MethodPost, "/api/verify-email",
		map[string]string{"email": "ada@example.com", "code": code}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Verified   bool                  `json:"verified"`
		Membership data.MembershipRecord `json:"membership"`
	}
	testutil.Decode(t, rec, &resp)
	assert.True(t, resp.Verified)
	assert.Equal(t, data.MembershipActive, resp.Membership.Status)
}

func TestUsernameTakenIgnoresCase(t *testing.T) {
	h := newTestHandler(t, false)
	require.Equal(t, http.StatusCreated,
		testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", validForm(), "").Code)
	h.duplicates = newDuplicateGuard(duplicateThreshold)

	f := validForm()
	f.Email = "other@example.com"
	f.Username = "ADA.Obi"
	rec := testutil.DoJSON(t, http.HandlerFunc(h.Register), http.MethodPost, "/api/register", f, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{MsgUsernameTaken}, testutil.Decode(t, rec, nil).Errors["username"])
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestDuplicateGuardWindow(t *testing.T) {
	g := newDuplicateGuard(time.Minute)
	now := time.Now()

	assert.False(t, g.check("k", now))
	assert.True(t, g.check("k", now.Add(30*time.Second)))
	assert.False(t, g.check("k", now.Add(2*time.Minute)))
}
