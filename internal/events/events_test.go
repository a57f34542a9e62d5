package events

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/data"
	"medassoc/internal/testutil"
)

var base = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func sample() []data.Event {
	return []data.Event{
		{ID: "3", Kind: data.KindWorkshop, Title: "Suturing Skills", Description: "Hands-on wound closure", Category: "surgery", Status: StatusPlanning, StartsAt: base.AddDate(0, 0, 3)},
		{ID: "1", Kind: data.KindWebinar, Title: "Malaria Update", Description: "New WHO guidance", Category: "clinical", Status: StatusLive, StartsAt: base.AddDate(0, 0, 1)},
		{ID: "2", Kind: data.KindWebinar, Title: "Practice Finance", Description: "Billing for clinics", Category: "management", Status: StatusCompleted, StartsAt: base.AddDate(0, 0, 2)},
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestApplySortsAndFilters(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, ids(Apply(sample(), Filter{})))
	assert.Equal(t, []string{"1", "2"}, ids(Apply(sample(), Filter{Kind: "webinar"})))
	assert.Equal(t, []string{"1"}, ids(Apply(sample(), Filter{Query: "WHO"})))
	assert.Equal(t, []string{"3"}, ids(Apply(sample(), Filter{Query: "suturing", Status: "Planning"})))
	assert.Equal(t, []string{"2"}, ids(Apply(sample(), Filter{Category: "management"})))
	assert.Empty(t, ids(Apply(sample(), Filter{Query: "malaria", Kind: "workshop"})))
}

func TestApplyNoMatchIsEmptyNotNil(t *testing.T) {
	items := Apply(sample(), Filter{Query: "cardiology"})
	assert.NotNil(t, items)
	assert.Empty(t, items)

	assert.NotNil(t, Apply(nil, Filter{}))
}

func TestApplyAttachesBadges(t *testing.T) {
	items := Apply(sample(), Filter{})
	assert.Equal(t, Badge{Label: "Live", Color: "green", Icon: "radio"}, items[0].Badge)
	assert.Equal(t, "Completed", items[1].Badge.Label)
	assert.Equal(t, "Planning", items[2].Badge.Label)
}

func TestBadgeForUnknownStatus(t *testing.T) {
	assert.Equal(t, unknownBadge, BadgeFor("postponed"))
}

func TestCheckTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusPlanning, StatusLive},
		{StatusPlanning, StatusCancelled},
		{StatusLive, StatusCompleted},
		{StatusLive, StatusCancelled},
	}
	for _, tr := range allowed {
		assert.NoError(t, CheckTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]string{
		{StatusPlanning, StatusCompleted},
		{StatusPlanning, StatusPlanning},
		{StatusLive, StatusPlanning},
		{StatusCompleted, StatusLive},
		{StatusCancelled, StatusPlanning},
	}
	for _, tr := range denied {
		assert.ErrorIs(t, CheckTransition(tr[0], tr[1]), ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}

	assert.ErrorIs(t, CheckTransition(StatusPlanning, "postponed"), ErrUnknownStatus)
}

func TestKindFromPath(t *testing.T) {
	kind, err := KindFromPath("Webinars")
	require.NoError(t, err)
	assert.Equal(t, data.KindWebinar, kind)

	_, err = KindFromPath("seminars")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func newRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/events", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/events/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/{kind}", h.AdminList).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/{kind}", h.AdminCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/{kind}/{id}", h.AdminGet).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/{kind}/{id}", h.AdminUpdate).Methods(http.MethodPut)
	r.HandleFunc("/api/admin/{kind}/{id}", h.AdminDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/{kind}/{id}/status", h.AdminUpdateStatus).Methods(http.MethodPatch)
	return r
}

func TestStatusChangeOnlyAffectsAddressedWebinar(t *testing.T) {
	suite := testutil.NewTestSuite(t)
	first := suite.SeedEvent(t, data.KindWebinar, "First webinar", StatusPlanning, base)
	second := suite.SeedEvent(t, data.KindWebinar, "Second webinar", StatusPlanning, base.AddDate(0, 0, 1))
	router := newRouter(NewHandler())

	rec := testutil.DoJSON(t, router, http.MethodPatch, "/api/admin/webinars/"+first.ID+"/status",
		map[string]string{"status": "live"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var item Item
	testutil.Decode(t, rec, &item)
	assert.Equal(t, StatusLive, item.Status)
	assert.Equal(t, "Live", item.Badge.Label)

	rec = testutil.DoJSON(t, router, http.MethodGet, "/api/events?kind=webinar", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	testutil.Decode(t, rec, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, first.ID, list.Items[0].ID)
	assert.Equal(t, "green", list.Items[0].Badge.Color)
	assert.Equal(t, second.ID, list.Items[1].ID)
	assert.Equal(t, "blue", list.Items[1].Badge.Color)
}

func TestStatusChangeRejectsIllegalTransition(t *testing.T) {
	suite := testutil.NewTestSuite(t)
	done := suite.SeedEvent(t, data.KindWorkshop, "Done", StatusCompleted, base)
	router := newRouter(NewHandler())

	rec := testutil.DoJSON(t, router, http.MethodPatch, "/api/admin/workshops/"+done.ID+"/status",
		map[string]string{"status": "live"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", testutil.Decode(t, rec, nil).Code)

	rec = testutil.DoJSON(t, router, http.MethodPatch, "/api/admin/workshops/"+done.ID+"/status",
		map[string]string{"status": "postponed"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Addressed through the wrong kind
	rec = testutil.DoJSON(t, router, http.MethodPatch, "/api/admin/webinars/"+done.ID+"/status",
		map[string]string{"status": "cancelled"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got, err := data.NewEventRepository().GetByID(done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestAdminCRUD(t *testing.T) {
	testutil.NewTestSuite(t)
	h := NewHandler()
	h.now = func() time.Time { return base }
	router := newRouter(h)

	body := map[string]interface{}{
		"title":      "Hypertension Workshop",
		"category":   "Clinical",
		"starts_at":  base.AddDate(0, 1, 0),
		"speakers":   []string{"Dr. O. Ade"},
		"capacity":   25,
		"cpd_points": 4,
	}
	rec := testutil.DoJSON(t, router, http.MethodPost, "/api/admin/workshops", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Item
	testutil.Decode(t, rec, &created)
	assert.Equal(t, data.KindWorkshop, created.Kind)
	assert.Equal(t, StatusPlanning, created.Status)
	assert.Equal(t, "clinical", created.Category)

	body["title"] = "Hypertension Masterclass"
	rec = testutil.DoJSON(t, router, http.MethodPut, "/api/admin/workshops/"+created.ID, body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = testutil.DoJSON(t, router, http.MethodGet, "/api/admin/workshops/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched Item
	testutil.Decode(t, rec, &fetched)
	assert.Equal(t, "Hypertension Masterclass", fetched.Title)

	rec = testutil.DoJSON(t, router, http.MethodGet, "/api/admin/webinars", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	testutil.Decode(t, rec, &list)
	assert.Empty(t, list.Items)

	rec = testutil.DoJSON(t, router, http.MethodDelete, "/api/admin/workshops/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = testutil.DoJSON(t, router, http.MethodDelete, "/api/admin/workshops/"+created.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCreateValidation(t *testing.T) {
	testutil.NewTestSuite(t)
	router := newRouter(NewHandler())

	rec := testutil.DoJSON(t, router, http.MethodPost, "/api/admin/webinars", map[string]interface{}{"category": "x"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := testutil.Decode(t, rec, nil)
	assert.Contains(t, env.Errors, "title")
	assert.Contains(t, env.Errors, "starts_at")

	rec = testutil.DoJSON(t, router, http.MethodPost, "/api/admin/webinars", map[string]interface{}{
		"title": "Backwards", "starts_at": base, "ends_at": base.Add(-time.Hour),
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, testutil.Decode(t, rec, nil).Errors, "ends_at")

	rec = testutil.DoJSON(t, router, http.MethodPost, "/api/admin/seminars", map[string]interface{}{"title": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
