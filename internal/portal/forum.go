package portal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"medassoc/internal/data"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	threads, err := h.forum.ListThreads()
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load forum", "")
		return
	}

	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		filtered := []data.ForumThread{}
		for _, t := range threads {
			if strings.EqualFold(t.Category, category) {
				filtered = append(filtered, t)
			}
		}
		threads = filtered
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"items": threads, "count": len(threads)})
}

type threadRequest struct {
	Category string `json:"category" validate:"max=50"`
	Title    string `json:"title" validate:"required,max=200"`
	Body     string `json:"body" validate:"required,max=10000"`
}

func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	var req threadRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	now := h.now().UTC()
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = "general"
	}
	t := data.ForumThread{
		ID:         uuid.NewString(),
		MemberID:   member.ID,
		AuthorName: member.DisplayName(),
		Category:   category,
		Title:      strings.TrimSpace(req.Title),
		Body:       req.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.forum.InsertThread(t); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create thread", "")
		return
	}

	logger.LogInfo("Forum thread %s created by %s", t.ID, member.ID)
	middleware.WriteAPIResponse(w, r, http.StatusCreated, t)
}

type threadResponse struct {
	Thread  *data.ForumThread `json:"thread"`
	Replies []data.ForumReply `json:"replies"`
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	t, ok := h.loadThread(w, r)
	if !ok {
		return
	}
	replies, err := h.forum.ListReplies(t.ID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load replies", "")
		return
	}
	middleware.WriteAPISuccess(w, r, threadResponse{Thread: t, Replies: replies})
}

func (h *Handler) loadThread(w http.ResponseWriter, r *http.Request) (*data.ForumThread, bool) {
	t, err := h.forum.GetThread(mux.Vars(r)["id"])
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Thread not found", "")
		return nil, false
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load thread", "")
		return nil, false
	}
	return t, true
}

type replyRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}
	t, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	reply := data.ForumReply{
		ID:         uuid.NewString(),
		ThreadID:   t.ID,
		MemberID:   member.ID,
		AuthorName: member.DisplayName(),
		Body:       req.Body,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.forum.InsertReply(reply); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to post reply", "")
		return
	}
	middleware.WriteAPIResponse(w, r, http.StatusCreated, reply)
}
