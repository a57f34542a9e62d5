package catalog

import (
	"net/http"

	"github.com/gorilla/mux"

	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

type tiersResponse struct {
	Currency string `json:"currency"`
	Tiers    []Tier `json:"tiers"`
}

// TiersHandler lists the membership categories open for registration
func (s *Service) TiersHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)
	middleware.WriteAPISuccess(w, r, tiersResponse{Currency: s.Currency(), Tiers: s.Tiers()})
}

func (s *Service) TierHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	tier, ok := s.Tier(mux.Vars(r)["id"])
	if !ok {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "unknown_tier", "Unknown membership category", "")
		return
	}
	middleware.WriteAPISuccess(w, r, tier)
}
