package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"medassoc/internal/logger"
)

//go:embed default_catalog.json
var defaultCatalog []byte

var (
	ErrUnknownTier  = errors.New("unknown membership tier")
	ErrNotAnUpgrade = errors.New("target tier is not an upgrade")
)

type Service struct {
	tiers    map[string]Tier
	ordered  []Tier
	currency string

	// Cache management
	source     string
	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService() *Service {
	return &Service{
		tiers:    make(map[string]Tier),
		currency: "USD",
	}
}

// Load reads the catalog from path, falling back to the built-in catalog when
// path is empty or does not exist.
func (s *Service) Load(path string) error {
	if path == "" {
		return s.LoadDefault()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.LogWarn("Catalog file %s not found, using built-in catalog", path)
		return s.LoadDefault()
	}
	return s.LoadFromFile(path)
}

func (s *Service) LoadFromFile(path string) error {
	logger.LogInfo("Loading membership catalog from file: %s", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}
	return s.loadBytes(raw, path)
}

func (s *Service) LoadDefault() error {
	return s.loadBytes(defaultCatalog, "built-in")
}

func (s *Service) loadBytes(raw []byte, source string) error {
	var catalog CatalogData
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := validateCatalog(catalog); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.populate(catalog)
	s.source = source
	s.lastLoaded = time.Now()

	logger.LogInfo("Successfully loaded membership catalog (%s): %d tiers", source, len(s.ordered))
	return nil
}

func validateCatalog(catalog CatalogData) error {
	seen := make(map[string]bool, len(catalog.Tiers))
	for _, t := range catalog.Tiers {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("catalog tier %q has no id", t.Name)
		}
		if seen[t.ID] {
			return fmt.Errorf("catalog tier %q listed twice", t.ID)
		}
		if t.Fee.IsNegative() {
			return fmt.Errorf("catalog tier %q has a negative fee", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Only available tiers are kept
func (s *Service) populate(catalog CatalogData) {
	s.tiers = make(map[string]Tier)
	s.ordered = s.ordered[:0]

	for _, t := range catalog.Tiers {
		if !t.Available {
			continue
		}
		s.tiers[strings.ToLower(t.ID)] = t
		s.ordered = append(s.ordered, t)
	}
	sort.SliceStable(s.ordered, func(i, j int) bool { return s.ordered[i].Rank < s.ordered[j].Rank })

	if catalog.Currency != "" {
		s.currency = catalog.Currency
	}
}

func (s *Service) Currency() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.currency
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (s *Service) Tier(id string) (Tier, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, ok := s.tiers[strings.ToLower(strings.TrimSpace(id))]
	return t, ok
}

// Tiers returns the available tiers ordered by rank.
func (s *Service) Tiers() []Tier {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]Tier, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Service) RenewalFee(tierID string) (decimal.Decimal, error) {
	t, ok := s.Tier(tierID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownTier, tierID)
	}
	return t.Fee, nil
}

// QuoteUpgrade prices a move from the current tier to target. The amount due is
// the target fee minus what was already paid.
func (s *Service) QuoteUpgrade(currentTierID string, amountPaid decimal.Decimal, targetTierID string) (UpgradeQuote, error) {
	current, ok := s.Tier(currentTierID)
	if !ok {
		return UpgradeQuote{}, fmt.Errorf("%w: %s", ErrUnknownTier, currentTierID)
	}
	target, ok := s.Tier(targetTierID)
	if !ok {
		return UpgradeQuote{}, fmt.Errorf("%w: %s", ErrUnknownTier, targetTierID)
	}
	if target.Rank <= current.Rank || !target.Fee.GreaterThan(amountPaid) {
		return UpgradeQuote{}, fmt.Errorf("%w: %s to %s", ErrNotAnUpgrade, current.ID, target.ID)
	}

	due := target.Fee.Sub(amountPaid).Round(2)
	return UpgradeQuote{
		FromTier:   current.ID,
		ToTier:     target.ID,
		TargetFee:  target.Fee,
		AmountPaid: amountPaid,
		AmountDue:  due,
		Display:    FormatAmount(due),
	}, nil
}

// UpgradeTargets lists the tiers a holder of currentTierID may move to.
func (s *Service) UpgradeTargets(currentTierID string, amountPaid decimal.Decimal, accountType string) []Tier {
	current, ok := s.Tier(currentTierID)
	if !ok {
		return nil
	}
	var out []Tier
	for _, t := range s.Tiers() {
		if t.Rank > current.Rank && t.Fee.GreaterThan(amountPaid) && t.AllowsAccountType(accountType) {
			out = append(out, t)
		}
	}
	return out
}

// FormatAmount renders a dollar amount, dropping cents when they are zero ("$40", "$12.50").
func FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return "$" + d.Truncate(0).String()
	}
	return "$" + d.StringFixed(2)
}

// GetStats summarises the loaded catalog for the health endpoint.
func (s *Service) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"tiers":       len(s.ordered),
		"source":      s.source,
		"last_loaded": s.lastLoaded,
		"cache_age":   time.Since(s.lastLoaded).String(),
	}
}
