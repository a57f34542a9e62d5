package content

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medassoc/internal/data"
	"medassoc/internal/testutil"
)

func loadDefault(t *testing.T) *Service {
	t.Helper()
	s := NewService()
	require.NoError(t, s.Load(""))
	return s
}

func TestNewsSearch(t *testing.T) {
	s := loadDefault(t)

	all := s.News("", "")
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].PublishedAt.After(all[i-1].PublishedAt), "news must be newest first")
	}

	hits := s.News("cpd", "")
	require.Len(t, hits, 1)
	assert.Equal(t, "cpd-policy-update", hits[0].ID)

	assert.Len(t, s.News("", "ANNOUNCEMENTS"), 2)
	assert.Empty(t, s.News("cpd", "community"))

	none := s.News("no such headline", "")
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTrainingProgramFilter(t *testing.T) {
	s := loadDefault(t)

	assert.Len(t, s.TrainingPrograms("", "intermediate"), 2)
	hits := s.TrainingPrograms("trauma", "")
	require.Len(t, hits, 1)
	assert.Equal(t, "advanced", hits[0].Level)
	assert.Empty(t, s.TrainingPrograms("trauma", "beginner"))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"news":[{"id":"only","title":"Only item","category":"misc"}]}`), 0o600))

	s := NewService()
	require.NoError(t, s.Load(path))
	assert.Len(t, s.News("", ""), 1)
	assert.Empty(t, s.SeedEvents())

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	assert.Error(t, s.Load(path))

	require.NoError(t, s.Load(filepath.Join(t.TempDir(), "missing.json")))
	assert.NotEmpty(t, s.SeedEvents())
}

func TestSeedEventsOnlyWhenEmpty(t *testing.T) {
	testutil.NewTestSuite(t)
	s := loadDefault(t)
	now := time.Date(2025, 5, 1, 15, 0, 0, 0, time.UTC)

	n, err := SeedEvents(s, now)
	require.NoError(t, err)
	assert.Equal(t, len(s.SeedEvents()), n)

	n, err = SeedEvents(s, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := data.NewEventRepository().List(data.KindWebinar)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2025, 5, 8, 9, 0, 0, 0, time.UTC), events[0].StartsAt.UTC())
}

func TestBenefitsHandler(t *testing.T) {
	suite := testutil.NewTestSuite(t)
	h := NewHandler(loadDefault(t), suite.Catalog)

	rec := testutil.DoJSON(t, http.HandlerFunc(h.Benefits), http.MethodGet, "/api/benefits", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp benefitsResponse
	testutil.Decode(t, rec, &resp)
	assert.NotEmpty(t, resp.General)
	require.Len(t, resp.Tiers, len(suite.Catalog.Tiers()))
	assert.Equal(t, "student", resp.Tiers[0].TierID)
}

func TestNewsHandlerEmptyResult(t *testing.T) {
	suite := testutil.NewTestSuite(t)
	h := NewHandler(loadDefault(t), suite.Catalog)

	rec := testutil.DoJSON(t, http.HandlerFunc(h.News), http.MethodGet, "/api/news?q=zzz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}
