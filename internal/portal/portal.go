// Package portal serves the signed-in member area: dashboard, forum and messages.
package portal

import (
	"errors"
	"net/http"
	"time"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/events"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

const upcomingLimit = 5

type Handler struct {
	members     *data.MemberRepository
	memberships *data.MembershipRepository
	events      *data.EventRepository
	forum       *data.ForumRepository
	messages    *data.MessageRepository
	catalog     *catalog.Service
	now         func() time.Time
}

func NewHandler(cat *catalog.Service) *Handler {
	return &Handler{
		members:     data.NewMemberRepository(),
		memberships: data.NewMembershipRepository(),
		events:      data.NewEventRepository(),
		forum:       data.NewForumRepository(),
		messages:    data.NewMessageRepository(),
		catalog:     cat,
		now:         time.Now,
	}
}

// currentMember loads the signed-in member, writing the error response when it cannot.
func (h *Handler) currentMember(w http.ResponseWriter, r *http.Request) (*data.Member, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Authorization required", "")
		return nil, false
	}
	m, err := h.members.GetByID(p.ID)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, "invalid_token", "Account no longer exists", "")
		return nil, false
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load account", "")
		return nil, false
	}
	return m, true
}

// CPDProgress is continuing professional development for the current membership year
type CPDProgress struct {
	Earned   int `json:"earned"`
	Required int `json:"required"`
	Percent  int `json:"percent"`
}

// Progress computes CPD completion, capped at 100 percent. Nothing required counts as complete.
func Progress(earned, required int) CPDProgress {
	p := CPDProgress{Earned: earned, Required: required, Percent: 100}
	if required > 0 && earned < required {
		p.Percent = earned * 100 / required
	}
	if p.Percent < 0 {
		p.Percent = 0
	}
	return p
}

// Upcoming returns the next events a member can still attend, soonest first.
func Upcoming(all []data.Event, now time.Time, limit int) []events.Item {
	out := []events.Item{}
	for _, item := range events.Apply(all, events.Filter{}) {
		if !events.IsOpen(item.Status) {
			continue
		}
		if item.Status != events.StatusLive && item.StartsAt.Before(now) {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

type dashboardResponse struct {
	Member         *data.Member           `json:"member"`
	Membership     *data.MembershipRecord `json:"membership"`
	TierName       string                 `json:"tier_name"`
	CPD            CPDProgress            `json:"cpd"`
	UpcomingEvents []events.Item          `json:"upcoming_events"`
	UnreadMessages int                    `json:"unread_messages"`
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}

	rec, err := h.memberships.GetByMemberID(member.ID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load membership", "")
		return
	}

	all, err := h.events.List("")
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load events", "")
		return
	}

	unread, err := h.messages.UnreadCount(member.ID)
	if err != nil {
		logger.LogError("Unread count for %s failed: %v", member.ID, err)
	}

	resp := dashboardResponse{
		Member:         member,
		Membership:     rec,
		TierName:       rec.TierID,
		CPD:            Progress(rec.CPDPoints, rec.CPDRequired),
		UpcomingEvents: Upcoming(all, h.now().UTC(), upcomingLimit),
		UnreadMessages: unread,
	}
	if tier, found := h.catalog.Tier(rec.TierID); found {
		resp.TierName = tier.Name
	}
	middleware.WriteAPISuccess(w, r, resp)
}

type cpdRequest struct {
	Activity string `json:"activity" validate:"required,max=200"`
	Points   int    `json:"points" validate:"required,min=1,max=50"`
}

// RecordCPD credits self-reported CPD points to an active membership
func (h *Handler) RecordCPD(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	var req cpdRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	err := h.memberships.AddCPDPoints(member.ID, req.Points, h.now().UTC())
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusConflict, "membership_inactive", "CPD can only be recorded on an active membership", "")
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to record CPD", "")
		return
	}

	rec, err := h.memberships.GetByMemberID(member.ID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load membership", "")
		return
	}
	logger.LogInfo("Member %s recorded %d CPD points for %q", member.ID, req.Points, req.Activity)
	middleware.WriteAPISuccess(w, r, Progress(rec.CPDPoints, rec.CPDRequired))
}
