// Package testutil sets up a throwaway database and fixtures for package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
)

// TestSuite owns a temporary sqlite database and the built-in catalog
type TestSuite struct {
	DBPath  string
	Catalog *catalog.Service
}

// NewTestSuite creates a fresh database for t and closes it on cleanup
func NewTestSuite(t *testing.T) *TestSuite {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.InitDB(dbPath), "init test database")

	cat := catalog.NewService()
	require.NoError(t, cat.LoadDefault(), "load catalog")

	t.Cleanup(func() {
		data.CloseDB()
	})

	return &TestSuite{DBPath: dbPath, Catalog: cat}
}

// Low cost keeps fixture creation fast
func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

var memberSeq int64

// MemberFixture describes a member to seed. Zero values get sensible defaults.
type MemberFixture struct {
	Email       string
	Username    string
	Password    string
	AccountType string
	TierID      string
	AmountPaid  string
	Status      string
	Verified    bool
	ExpiresAt   *time.Time
	CPDPoints   int
	CreatedAt   time.Time
}

// SeedMember stores a member and its membership record
func (ts *TestSuite) SeedMember(t *testing.T, f MemberFixture) (data.Member, data.MembershipRecord) {
	t.Helper()

	n := atomic.AddInt64(&memberSeq, 1)
	if f.Email == "" {
		f.Email = fmt.Sprintf("member%d@example.com", n)
	}
	if f.Username == "" {
		f.Username = fmt.Sprintf("member%d", n)
	}
	if f.Password == "" {
		f.Password = "correct-horse-battery"
	}
	if f.AccountType == "" {
		f.AccountType = data.AccountIndividual
	}
	if f.TierID == "" {
		f.TierID = "associate"
	}
	if f.Status == "" {
		f.Status = data.MembershipActive
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	tier, ok := ts.Catalog.Tier(f.TierID)
	require.True(t, ok, "unknown tier %s", f.TierID)

	paid := tier.Fee
	if f.AmountPaid != "" {
		paid = decimal.RequireFromString(f.AmountPaid)
	}

	member := data.Member{
		ID:          uuid.NewString(),
		AccountType: f.AccountType,
		Username:    f.Username,
		Email:       f.Email,
		FirstName:   "Test",
		LastName:    fmt.Sprintf("Member%d", n),
		Profession:  "General Practitioner",
		Country:     "Nigeria",
		Verified:    f.Verified,
		CreatedAt:   f.CreatedAt,
	}
	if f.AccountType == data.AccountOrganization {
		member.OrganizationName = fmt.Sprintf("Clinic %d", n)
		member.RegistrationNumber = fmt.Sprintf("RC-%05d", n)
	}
	member.PasswordHash = hash(t, f.Password)
	if f.Verified {
		at := f.CreatedAt
		member.VerifiedAt = &at
	}

	started := f.CreatedAt
	expires := started.AddDate(1, 0, 0)
	if f.ExpiresAt != nil {
		expires = *f.ExpiresAt
	}
	rec := data.MembershipRecord{
		MembershipNumber: fmt.Sprintf("MA-%d-%06d", f.CreatedAt.Year(), n),
		MemberID:         member.ID,
		TierID:           tier.ID,
		AmountPaid:       paid,
		Status:           f.Status,
		StartedAt:        &started,
		ExpiresAt:        &expires,
		CPDPoints:        f.CPDPoints,
		CPDRequired:      tier.CPDRequired,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.CreatedAt,
	}
	if f.Status == data.MembershipPending {
		rec.StartedAt, rec.ExpiresAt = nil, nil
		rec.AmountPaid = decimal.Zero
	}

	require.NoError(t, data.NewMemberRepository().InsertWithMembership(member, rec))
	return member, rec
}

// SeedAdmin stores an administrator with the given role and password
func (ts *TestSuite) SeedAdmin(t *testing.T, email, role, password string) data.Admin {
	t.Helper()

	admin := data.Admin{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Admin " + email,
		Role:         role,
		PasswordHash: hash(t, password),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, data.NewAdminRepository().Insert(admin))
	return admin
}

// SeedEvent stores an event of the given kind and status starting at startsAt
func (ts *TestSuite) SeedEvent(t *testing.T, kind, title, status string, startsAt time.Time) data.Event {
	t.Helper()

	now := time.Now().UTC()
	e := data.Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       title,
		Description: "Description of " + title,
		Category:    "clinical",
		StartsAt:    startsAt,
		Location:    "Online",
		Speakers:    []string{"Dr. A. Bello"},
		Capacity:    100,
		Status:      status,
		CPDPoints:   2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, data.NewEventRepository().Insert(e))
	return e
}

// DoJSON sends a JSON request through h and returns the recorded response
func DoJSON(t *testing.T, h http.Handler, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// Envelope is the decoded form of both success and error responses
type Envelope struct {
	Success   bool                `json:"success"`
	Data      json.RawMessage     `json:"data"`
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Errors    map[string][]string `json:"errors"`
	RequestID string              `json:"request_id"`
}

// Decode reads the response envelope and, when dest is non-nil, its data field
func Decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) Envelope {
	t.Helper()

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	if dest != nil {
		require.NotEmpty(t, env.Data, "no data in %s", rec.Body.String())
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
	return env
}
