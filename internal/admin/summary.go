package admin

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

type TierCount struct {
	TierID   string          `json:"tier_id"`
	TierName string          `json:"tier_name"`
	Count    int             `json:"count"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// Summary is the yearly membership report
type Summary struct {
	Year               int             `json:"year"`
	TotalMemberships   int             `json:"total_memberships"`
	StatusCounts       map[string]int  `json:"status_counts"`
	AccountTypeCounts  map[string]int  `json:"account_type_counts"`
	Tiers              []TierCount     `json:"tiers"`
	Revenue            decimal.Decimal `json:"revenue"`
	RevenueDisplay     string          `json:"revenue_display"`
	ProcessingDuration string          `json:"processing_duration"`
}

// ComputeSummary tallies records. Pending records carry no payment and add nothing to revenue.
func ComputeSummary(year int, rows []data.MembershipReportRow, cat *catalog.Service) Summary {
	s := Summary{
		Year:              year,
		StatusCounts:      make(map[string]int),
		AccountTypeCounts: make(map[string]int),
		Tiers:             []TierCount{},
		Revenue:           decimal.Zero,
	}

	byTier := make(map[string]*TierCount)
	for _, row := range rows {
		s.TotalMemberships++
		s.StatusCounts[row.Status]++
		s.AccountTypeCounts[row.AccountType]++

		tc, ok := byTier[row.TierID]
		if !ok {
			tc = &TierCount{TierID: row.TierID, TierName: row.TierID, Revenue: decimal.Zero}
			if tier, found := cat.Tier(row.TierID); found {
				tc.TierName = tier.Name
			}
			byTier[row.TierID] = tc
		}
		tc.Count++

		if row.Status != data.MembershipPending {
			tc.Revenue = tc.Revenue.Add(row.AmountPaid)
			s.Revenue = s.Revenue.Add(row.AmountPaid)
		}
	}

	for _, tc := range byTier {
		s.Tiers = append(s.Tiers, *tc)
	}
	rank := func(id string) int {
		if t, ok := cat.Tier(id); ok {
			return t.Rank
		}
		return int(^uint(0) >> 1)
	}
	sort.Slice(s.Tiers, func(i, j int) bool {
		ri, rj := rank(s.Tiers[i].TierID), rank(s.Tiers[j].TierID)
		if ri != rj {
			return ri < rj
		}
		return s.Tiers[i].TierID < s.Tiers[j].TierID
	})

	s.RevenueDisplay = catalog.FormatAmount(s.Revenue)
	return s
}

// SummaryHandler serves GET /api/admin/summary?year=
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)
	startTime := time.Now()

	year, err := parseYear(r, h.now())
	if err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_year", "Invalid year", err.Error())
		return
	}

	rows, err := h.memberships.ListByYear(year)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load membership data", "")
		return
	}

	summary := ComputeSummary(year, rows, h.catalog)
	summary.ProcessingDuration = time.Since(startTime).String()
	logger.LogInfo("Membership summary for %d: %d records, revenue %s", year, summary.TotalMemberships, summary.Revenue.StringFixed(2))
	middleware.WriteAPISuccess(w, r, summary)
}

func parseYear(r *http.Request, now time.Time) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return now.Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 2000 || year > now.Year()+1 {
		return 0, fmt.Errorf("year must be between 2000 and %d", now.Year()+1)
	}
	return year, nil
}
