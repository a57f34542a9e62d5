package portal

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/auth"
	"medassoc/internal/data"
	"medassoc/internal/events"
	"medassoc/internal/middleware"
	"medassoc/internal/testutil"
)

var now = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	suite  *testutil.TestSuite
	tokens *auth.TokenService
	router *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	suite := testutil.NewTestSuite(t)
	tokens := auth.NewTokenService("portal-secret", time.Hour)

	h := NewHandler(suite.Catalog)
	h.now = func() time.Time { return now }

	r := mux.NewRouter()
	p := r.PathPrefix("/api/portal").Subrouter()
	p.Use(middleware.RequireAuth(tokens, auth.RoleMember))
	p.HandleFunc("/dashboard", h.Dashboard).Methods(http.MethodGet)
	p.HandleFunc("/cpd", h.RecordCPD).Methods(http.MethodPost)
	p.HandleFunc("/forum/threads", h.ListThreads).Methods(http.MethodGet)
	p.HandleFunc("/forum/threads", h.CreateThread).Methods(http.MethodPost)
	p.HandleFunc("/forum/threads/{id}", h.GetThread).Methods(http.MethodGet)
	p.HandleFunc("/forum/threads/{id}/replies", h.Reply).Methods(http.MethodPost)
	p.HandleFunc("/messages", h.Inbox).Methods(http.MethodGet)
	p.HandleFunc("/messages", h.Send).Methods(http.MethodPost)
	p.HandleFunc("/messages/{id}/read", h.MarkRead).Methods(http.MethodPost)

	return &fixture{suite: suite, tokens: tokens, router: r}
}

func (f *fixture) login(t *testing.T, m data.Member) string {
	t.Helper()
	token, _, err := f.tokens.Issue(middleware.Principal{ID: m.ID, Email: m.Email, Name: m.DisplayName(), Role: auth.RoleMember})
	require.NoError(t, err)
	return token
}

func TestProgress(t *testing.T) {
	assert.Equal(t, CPDProgress{Earned: 10, Required: 25, Percent: 40}, Progress(10, 25))
	assert.Equal(t, 100, Progress(40, 25).Percent)
	assert.Equal(t, 100, Progress(0, 0).Percent)
	assert.Equal(t, 0, Progress(0, 30).Percent)
}

func TestUpcoming(t *testing.T) {
	mk := func(id, status string, offsetDays int) data.Event {
		return data.Event{ID: id, Status: status, StartsAt: now.AddDate(0, 0, offsetDays)}
	}
	all := []data.Event{
		mk("past", events.StatusPlanning, -2),
		mk("live", events.StatusLive, -1),
		mk("cancelled", events.StatusCancelled, 1),
		mk("done", events.StatusCompleted, 2),
	}
	for i := 0; i < 6; i++ {
		all = append(all, mk(string(rune('a'+i)), events.StatusPlanning, 3+i))
	}

	items := Upcoming(all, now, 5)
	require.Len(t, items, 5)
	assert.Equal(t, "live", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
	assert.Equal(t, "d", items[4].ID)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	member, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true, TierID: "full", CPDPoints: 10})
	f.suite.SeedEvent(t, data.KindWebinar, "Next webinar", events.StatusPlanning, now.AddDate(0, 0, 3))
	f.suite.SeedEvent(t, data.KindWorkshop, "Cancelled workshop", events.StatusCancelled, now.AddDate(0, 0, 4))

	rec := testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/dashboard", nil, f.login(t, member))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dashboardResponse
	testutil.Decode(t, rec, &resp)
	assert.Equal(t, member.ID, resp.Member.ID)
	assert.Equal(t, "Full Member", resp.TierName)
	assert.Equal(t, CPDProgress{Earned: 10, Required: 25, Percent: 40}, resp.CPD)
	require.Len(t, resp.UpcomingEvents, 1)
	assert.Equal(t, "Next webinar", resp.UpcomingEvents[0].Title)
	assert.Zero(t, resp.UnreadMessages)

	rec = testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/dashboard", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordCPD(t *testing.T) {
	f := newFixture(t)
	member, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true, TierID: "full", CPDPoints: 20})
	token := f.login(t, member)

	rec := testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/cpd",
		map[string]interface{}{"activity": "Journal club", "points": 8}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p CPDProgress
	testutil.Decode(t, rec, &p)
	assert.Equal(t, CPDProgress{Earned: 28, Required: 25, Percent: 100}, p)

	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/cpd",
		map[string]interface{}{"activity": "Too much", "points": 500}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lapsed := now.AddDate(0, -1, 0)
	expired, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true, Status: data.MembershipExpired, ExpiresAt: &lapsed})
	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/cpd",
		map[string]interface{}{"activity": "Course", "points": 2}, f.login(t, expired))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestForumThreadAndReplies(t *testing.T) {
	f := newFixture(t)
	author, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true})
	other, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true})

	rec := testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/forum/threads",
		map[string]string{"category": "Clinical", "title": "Dengue cases rising", "body": "Anyone else seeing this?"}, f.login(t, author))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var thread data.ForumThread
	testutil.Decode(t, rec, &thread)
	assert.Equal(t, "clinical", thread.Category)
	assert.Equal(t, author.DisplayName(), thread.AuthorName)

	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/forum/threads/"+thread.ID+"/replies",
		map[string]string{"body": "Yes, three this week."}, f.login(t, other))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/forum/threads/"+thread.ID, nil, f.login(t, author))
	require.Equal(t, http.StatusOK, rec.Code)
	var full threadResponse
	testutil.Decode(t, rec, &full)
	assert.Equal(t, 1, full.Thread.ReplyCount)
	require.Len(t, full.Replies, 1)
	assert.Equal(t, other.ID, full.Replies[0].MemberID)

	rec = testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/forum/threads?category=research", nil, f.login(t, author))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)

	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/forum/threads/missing/replies",
		map[string]string{"body": "hello"}, f.login(t, other))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessaging(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true, Email: "alice@example.com"})
	bob, _ := f.suite.SeedMember(t, testutil.MemberFixture{Verified: true, Email: "bob@example.com"})
	f.suite.SeedMember(t, testutil.MemberFixture{Email: "pending@example.com", Status: data.MembershipPending})

	rec := testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/messages",
		map[string]string{"to_email": "BOB@example.com", "subject": "Referral", "body": "Can you see my patient?"}, f.login(t, alice))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg data.Message
	testutil.Decode(t, rec, &msg)

	for _, to := range []string{"pending@example.com", "nobody@example.com"} {
		rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/messages",
			map[string]string{"to_email": to, "subject": "Hi", "body": "Hi"}, f.login(t, alice))
		assert.Equal(t, http.StatusNotFound, rec.Code, to)
	}

	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/messages",
		map[string]string{"to_email": "alice@example.com", "subject": "Note", "body": "to self"}, f.login(t, alice))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/dashboard", nil, f.login(t, bob))
	require.Equal(t, http.StatusOK, rec.Code)
	var dash dashboardResponse
	testutil.Decode(t, rec, &dash)
	assert.Equal(t, 1, dash.UnreadMessages)

	// Only the recipient can mark it read
	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/messages/"+msg.ID+"/read", nil, f.login(t, alice))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = testutil.DoJSON(t, f.router, http.MethodPost, "/api/portal/messages/"+msg.ID+"/read", nil, f.login(t, bob))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = testutil.DoJSON(t, f.router, http.MethodGet, "/api/portal/messages", nil, f.login(t, bob))
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox struct {
		Items  []data.Message `json:"items"`
		Unread int            `json:"unread"`
	}
	testutil.Decode(t, rec, &inbox)
	require.Len(t, inbox.Items, 1)
	assert.True(t, inbox.Items[0].Read)
	assert.Zero(t, inbox.Unread)
}
