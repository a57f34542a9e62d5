package content

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

type Handler struct {
	content *Service
	catalog *catalog.Service
}

func NewHandler(content *Service, cat *catalog.Service) *Handler {
	return &Handler{content: content, catalog: cat}
}

type listResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

func (h *Handler) News(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	q := r.URL.Query()
	items := h.content.News(q.Get("q"), q.Get("category"))
	middleware.WriteAPISuccess(w, r, listResponse{Items: items, Count: len(items)})
}

func (h *Handler) NewsItem(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	item, ok := h.content.NewsItem(mux.Vars(r)["id"])
	if !ok {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "News item not found", "")
		return
	}
	middleware.WriteAPISuccess(w, r, item)
}

func (h *Handler) TrainingPrograms(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	q := r.URL.Query()
	items := h.content.TrainingPrograms(q.Get("q"), q.Get("level"))
	middleware.WriteAPISuccess(w, r, listResponse{Items: items, Count: len(items)})
}

type tierBenefits struct {
	TierID      string   `json:"tier_id"`
	TierName    string   `json:"tier_name"`
	Fee         string   `json:"fee"`
	Benefits    []string `json:"benefits"`
	Eligibility []string `json:"eligibility"`
}

type benefitsResponse struct {
	General []Benefit      `json:"general"`
	Tiers   []tierBenefits `json:"tiers"`
}

// Benefits combines the general member benefits with each tier's own list
func (h *Handler) Benefits(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	resp := benefitsResponse{General: h.content.GeneralBenefits(), Tiers: []tierBenefits{}}
	for _, t := range h.catalog.Tiers() {
		resp.Tiers = append(resp.Tiers, tierBenefits{
			TierID:      t.ID,
			TierName:    t.Name,
			Fee:         catalog.FormatAmount(t.Fee),
			Benefits:    t.Benefits,
			Eligibility: t.Eligibility,
		})
	}
	middleware.WriteAPISuccess(w, r, resp)
}

// SeedEvents stores the starter events when the events table is empty.
// It returns the number of events inserted.
func SeedEvents(s *Service, now time.Time) (int, error) {
	repo := data.NewEventRepository()
	n, err := repo.Count()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC)
	inserted := 0
	for _, seed := range s.SeedEvents() {
		starts := day.AddDate(0, 0, seed.StartsInDays)
		ends := starts.Add(time.Duration(seed.DurationHours) * time.Hour)
		e := data.Event{
			ID:          uuid.NewString(),
			Kind:        seed.Kind,
			Title:       seed.Title,
			Description: seed.Description,
			Category:    seed.Category,
			StartsAt:    starts,
			EndsAt:      &ends,
			Location:    seed.Location,
			Speakers:    seed.Speakers,
			Capacity:    seed.Capacity,
			Status:      seed.Status,
			CPDPoints:   seed.CPDPoints,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Insert(e); err != nil {
			return inserted, err
		}
		inserted++
	}

	logger.LogInfo("Seeded %d starter events", inserted)
	return inserted, nil
}
