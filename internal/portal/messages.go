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

func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	msgs, err := h.messages.Inbox(member.ID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load messages", "")
		return
	}

	unread := 0
	for _, m := range msgs {
		if !m.Read {
			unread++
		}
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"items": msgs, "count": len(msgs), "unread": unread})
}

type sendRequest struct {
	ToEmail string `json:"to_email" validate:"required,email_format"`
	Subject string `json:"subject" validate:"required,max=200"`
	Body    string `json:"body" validate:"required,max=10000"`
}

// Send delivers a message to another verified member
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	sender, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	recipient, err := h.members.GetByEmail(req.ToEmail)
	if errors.Is(err, data.ErrNotFound) || (err == nil && !recipient.Verified) {
		middleware.WriteValidationErrors(w, r, http.StatusNotFound, "recipient_not_found", "Recipient not found",
			map[string][]string{"to_email": {"No member with this email address"}})
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to send message", "")
		return
	}
	if recipient.ID == sender.ID {
		middleware.WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed", "Invalid request",
			map[string][]string{"to_email": {"You cannot message yourself"}})
		return
	}

	msg := data.Message{
		ID:          uuid.NewString(),
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName(),
		RecipientID: recipient.ID,
		Subject:     strings.TrimSpace(req.Subject),
		Body:        req.Body,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.messages.Insert(msg); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to send message", "")
		return
	}

	logger.LogInfo("Message %s sent from %s to %s", msg.ID, sender.ID, recipient.ID)
	middleware.WriteAPIResponse(w, r, http.StatusCreated, msg)
}

// MarkRead flags a message as read. Only its recipient can do this.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	member, ok := h.currentMember(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	err := h.messages.MarkRead(id, member.ID)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Message not found", "")
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update message", "")
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"id": id, "read": true})
}
