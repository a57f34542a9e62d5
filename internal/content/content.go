// Package content serves the association's static site content: news, training
// programmes and member benefits.
package content

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

	"medassoc/internal/logger"
)

//go:embed default_content.json
var defaultContent []byte

type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Body        string    `json:"body"`
	Category    string    `json:"category"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
}

type TrainingProgram struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Level       string `json:"level"`
	Duration    string `json:"duration"`
	Format      string `json:"format"`
	CPDPoints   int    `json:"cpd_points"`
}

type Benefit struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SeedEvent is a starter event, scheduled relative to the time it is seeded
type SeedEvent struct {
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	StartsInDays  int      `json:"starts_in_days"`
	DurationHours int      `json:"duration_hours"`
	Location      string   `json:"location"`
	Speakers      []string `json:"speakers"`
	Capacity      int      `json:"capacity"`
	Status        string   `json:"status"`
	CPDPoints     int      `json:"cpd_points"`
}

type Data struct {
	News             []NewsItem        `json:"news"`
	TrainingPrograms []TrainingProgram `json:"training_programs"`
	GeneralBenefits  []Benefit         `json:"general_benefits"`
	SeedEvents       []SeedEvent       `json:"seed_events"`
}

type Service struct {
	data       Data
	source     string
	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService() *Service {
	return &Service{}
}

// Load reads content from path, using the built-in content when path is empty or missing.
func (s *Service) Load(path string) error {
	if path == "" {
		return s.loadBytes(defaultContent, "built-in")
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.LogWarn("Content file %s not found, using built-in content", path)
		return s.loadBytes(defaultContent, "built-in")
	}
	if err != nil {
		return fmt.Errorf("failed to read content file: %w", err)
	}
	return s.loadBytes(raw, path)
}

func (s *Service) loadBytes(raw []byte, source string) error {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}

	// Newest news first
	sort.SliceStable(d.News, func(i, j int) bool { return d.News[i].PublishedAt.After(d.News[j].PublishedAt) })

	s.mutex.Lock()
	s.data = d
	s.source = source
	s.lastLoaded = time.Now()
	s.mutex.Unlock()

	logger.LogInfo("Loaded site content (%s): %d news items, %d training programmes, %d seed events",
		source, len(d.News), len(d.TrainingPrograms), len(d.SeedEvents))
	return nil
}

// News returns items whose title, summary or body contain q and whose category
// equals category. Empty arguments match everything.
func (s *Service) News(q, category string) []NewsItem {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []NewsItem{}
	for _, n := range s.data.News {
		if !equalFold(category, n.Category) || !containsFold(q, n.Title, n.Summary, n.Body) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (s *Service) NewsItem(id string) (NewsItem, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, n := range s.data.News {
		if n.ID == id {
			return n, true
		}
	}
	return NewsItem{}, false
}

func (s *Service) TrainingPrograms(q, level string) []TrainingProgram {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []TrainingProgram{}
	for _, p := range s.data.TrainingPrograms {
		if !equalFold(level, p.Level) || !containsFold(q, p.Title, p.Description) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) GeneralBenefits() []Benefit {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]Benefit, len(s.data.GeneralBenefits))
	copy(out, s.data.GeneralBenefits)
	return out
}

func (s *Service) SeedEvents() []SeedEvent {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]SeedEvent, len(s.data.SeedEvents))
	copy(out, s.data.SeedEvents)
	return out
}

func (s *Service) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"news":              len(s.data.News),
		"training_programs": len(s.data.TrainingPrograms),
		"source":            s.source,
		"last_loaded":       s.lastLoaded,
	}
}

func equalFold(filter, value string) bool {
	filter = strings.TrimSpace(filter)
	return filter == "" || strings.EqualFold(filter, value)
}

func containsFold(q string, fields ...string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
