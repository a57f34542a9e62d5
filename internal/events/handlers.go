package events

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"medassoc/internal/data"
	"medassoc/internal/logger"
	"medassoc/internal/metrics"
	"medassoc/internal/middleware"
)

type Handler struct {
	repo *data.EventRepository
	now  func() time.Time
}

func NewHandler() *Handler {
	return &Handler{repo: data.NewEventRepository(), now: time.Now}
}

type listResponse struct {
	Items []Item `json:"items"`
	Count int    `json:"count"`
}

// List is the public listing: GET /api/events?q=&kind=&status=&category=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	q := r.URL.Query()
	h.writeList(w, r, "", Filter{
		Query:    q.Get("q"),
		Kind:     q.Get("kind"),
		Status:   q.Get("status"),
		Category: q.Get("category"),
	})
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, kind string, f Filter) {
	all, err := h.repo.List(kind)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load events", "")
		return
	}
	items := Apply(all, f)
	middleware.WriteAPISuccess(w, r, listResponse{Items: items, Count: len(items)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	e, ok := h.load(w, r, "")
	if !ok {
		return
	}
	middleware.WriteAPISuccess(w, r, Item{Event: *e, Badge: BadgeFor(e.Status)})
}

// load fetches the event named by the {id} path variable. A non-empty kind must match.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, kind string) (*data.Event, bool) {
	e, err := h.repo.GetByID(mux.Vars(r)["id"])
	if err == nil && kind != "" && e.Kind != kind {
		err = data.ErrNotFound
	}
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Event not found", "")
		return nil, false
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load event", "")
		return nil, false
	}
	return e, true
}

// adminKind resolves the {kind} path variable, writing a 404 for unknown kinds.
func adminKind(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind, err := KindFromPath(mux.Vars(r)["kind"])
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "unknown_kind", "Unknown event type", err.Error())
		return "", false
	}
	return kind, true
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	h.writeList(w, r, kind, Filter{Query: q.Get("q"), Status: q.Get("status"), Category: q.Get("category")})
}

func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	e, ok := h.load(w, r, kind)
	if !ok {
		return
	}
	middleware.WriteAPISuccess(w, r, Item{Event: *e, Badge: BadgeFor(e.Status)})
}

type eventRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Category    string     `json:"category" validate:"max=50"`
	StartsAt    time.Time  `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	Location    string     `json:"location" validate:"max=200"`
	Speakers    []string   `json:"speakers" validate:"max=20,dive,required,max=100"`
	Capacity    int        `json:"capacity" validate:"min=0"`
	CPDPoints   int        `json:"cpd_points" validate:"min=0,max=100"`
}

// decodeEvent reads and validates an event body, writing the error response itself
func decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return req, false
	}
	if req.EndsAt != nil && !req.EndsAt.After(req.StartsAt) {
		middleware.WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed", "Invalid request",
			map[string][]string{"ends_at": {"Must be after the start time"}})
		return req, false
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	return req, true
}

func (req eventRequest) apply(e *data.Event) {
	e.Title = req.Title
	e.Description = req.Description
	e.Category = req.Category
	e.StartsAt = req.StartsAt.UTC()
	e.EndsAt = nil
	if req.EndsAt != nil {
		ends := req.EndsAt.UTC()
		e.EndsAt = &ends
	}
	e.Location = req.Location
	e.Speakers = req.Speakers
	e.Capacity = req.Capacity
	e.CPDPoints = req.CPDPoints
}

// AdminCreate adds an event of the path's kind. New events start in planning.
func (h *Handler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}

	now := h.now().UTC()
	e := data.Event{ID: uuid.NewString(), Kind: kind, Status: StatusPlanning, CreatedAt: now, UpdatedAt: now}
	req.apply(&e)

	if err := h.repo.Insert(e); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create event", "")
		return
	}

	logger.LogInfo("Created %s %s (%q)", kind, e.ID, e.Title)
	middleware.WriteAPIResponse(w, r, http.StatusCreated, Item{Event: e, Badge: BadgeFor(e.Status)})
}

func (h *Handler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	e, ok := h.load(w, r, kind)
	if !ok {
		return
	}
	req, ok := decodeEvent(w, r)
	if !ok {
		return
	}

	req.apply(e)
	e.UpdatedAt = h.now().UTC()
	if err := h.repo.Update(*e); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Event not found", "")
			return
		}
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update event", "")
		return
	}

	logger.LogInfo("Updated %s %s", kind, e.ID)
	middleware.WriteAPISuccess(w, r, Item{Event: *e, Badge: BadgeFor(e.Status)})
}

func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	err := h.repo.Delete(id, kind)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Event not found", "")
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to delete event", "")
		return
	}

	logger.LogInfo("Deleted %s %s", kind, id)
	middleware.WriteAPISuccess(w, r, map[string]string{"id": id})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AdminUpdateStatus moves one event to a new status. Only legal transitions are applied,
// and only the addressed event changes.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	kind, ok := adminKind(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}
	e, ok := h.load(w, r, kind)
	if !ok {
		return
	}

	to := strings.ToLower(strings.TrimSpace(req.Status))
	if err := CheckTransition(e.Status, to); err != nil {
		writeTransitionError(w, r, err)
		return
	}

	now := h.now().UTC()
	if err := h.repo.UpdateStatus(e.ID, e.Status, to, now); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			// Someone else changed the status first
			middleware.WriteAPIError(w, r, http.StatusConflict, "status_changed",
				"The status was changed by someone else; reload and try again", "")
			return
		}
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update status", "")
		return
	}

	logger.LogInfo("%s %s status %s -> %s", kind, e.ID, e.Status, to)
	metrics.RecordStatusChange(kind, to)

	e.Status = to
	e.UpdatedAt = now
	middleware.WriteAPISuccess(w, r, Item{Event: *e, Badge: BadgeFor(e.Status)})
}

func writeTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownStatus):
		middleware.WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed", "Invalid request",
			map[string][]string{"status": {"Must be one of: planning live completed cancelled"}})
	default:
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_transition", "That status change is not allowed", err.Error())
	}
}
