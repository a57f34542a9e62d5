package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedService(t *testing.T) *Service {
	t.Helper()
	s := NewService()
	require.NoError(t, s.LoadDefault())
	return s
}

func TestLoadDefaultOrdersByRank(t *testing.T) {
	s := loadedService(t)

	tiers := s.Tiers()
	require.NotEmpty(t, tiers)
	for i := 1; i < len(tiers); i++ {
		assert.Less(t, tiers[i-1].Rank, tiers[i].Rank)
	}
	assert.Equal(t, "USD", s.Currency())
}

func TestLoadSkipsUnavailableTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tiers": [
			{"id": "a", "name": "A", "fee": "10", "rank": 1, "available": true},
			{"id": "b", "name": "B", "fee": 20, "rank": 2, "available": false}
		]
	}`), 0o644))

	s := NewService()
	require.NoError(t, s.Load(path))

	_, ok := s.Tier("b")
	assert.False(t, ok)
	a, ok := s.Tier("A")
	require.True(t, ok)
	assert.True(t, a.Fee.Equal(decimal.NewFromInt(10)))
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	s := NewService()
	require.NoError(t, s.Load(filepath.Join(t.TempDir(), "nope.json")))
	assert.NotEmpty(t, s.Tiers())
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tiers":[
		{"id":"a","fee":"1","available":true},{"id":"a","fee":"2","available":true}]}`), 0o644))

	assert.Error(t, NewService().LoadFromFile(path))
}

func TestQuoteUpgradeSubtractsAmountPaid(t *testing.T) {
	s := loadedService(t)

	quote, err := s.QuoteUpgrade("associate", decimal.NewFromInt(40), "full")
	require.NoError(t, err)
	assert.True(t, quote.AmountDue.Equal(decimal.NewFromInt(40)), quote.AmountDue.String())
	assert.Equal(t, "$40", quote.Display)
}

func TestQuoteUpgradeRejectsDowngrade(t *testing.T) {
	s := loadedService(t)

	_, err := s.QuoteUpgrade("full", decimal.NewFromInt(80), "associate")
	assert.ErrorIs(t, err, ErrNotAnUpgrade)

	_, err = s.QuoteUpgrade("full", decimal.NewFromInt(80), "full")
	assert.ErrorIs(t, err, ErrNotAnUpgrade)

	_, err = s.QuoteUpgrade("full", decimal.NewFromInt(80), "platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestUpgradeTargetsRespectAccountType(t *testing.T) {
	s := loadedService(t)

	targets := s.UpgradeTargets("associate", decimal.NewFromInt(40), "individual")
	ids := make([]string, 0, len(targets))
	for _, tier := range targets {
		ids = append(ids, tier.ID)
	}
	assert.Equal(t, []string{"full", "fellow"}, ids)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$40", FormatAmount(decimal.RequireFromString("40.00")))
	assert.Equal(t, "$12.50", FormatAmount(decimal.RequireFromString("12.5")))
}
