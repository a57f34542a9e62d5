// Package admin manages administrator accounts and the membership report.
package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"medassoc/internal/auth"
	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
)

type Handler struct {
	admins      *data.AdminRepository
	memberships *data.MembershipRepository
	catalog     *catalog.Service
	now         func() time.Time
}

func NewHandler(cat *catalog.Service) *Handler {
	return &Handler{
		admins:      data.NewAdminRepository(),
		memberships: data.NewMembershipRepository(),
		catalog:     cat,
		now:         time.Now,
	}
}

// EnsureSuperAdmin creates the first superadmin when no administrators exist.
// It reports whether an account was created.
func EnsureSuperAdmin(email, password string) (bool, error) {
	repo := data.NewAdminRepository()
	n, err := repo.Count()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if email == "" || password == "" {
		logger.LogWarn("No administrators exist and BOOTSTRAP_ADMIN_EMAIL/PASSWORD are not set")
		return false, nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	err = repo.Insert(data.Admin{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Administrator",
		Role:         data.RoleSuperAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}
	logger.LogInfo("Created bootstrap superadmin %s", email)
	return true, nil
}

func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	admins, err := h.admins.List()
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load administrators", "")
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"items": admins, "count": len(admins)})
}

type createAdminRequest struct {
	Email    string `json:"email" validate:"required,email_format"`
	Name     string `json:"name" validate:"required,max=100"`
	Role     string `json:"role" validate:"required,oneof=admin superadmin"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req createAdminRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create administrator", "")
		return
	}

	admin := data.Admin{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		Role:         req.Role,
		PasswordHash: hash,
		CreatedAt:    h.now().UTC(),
	}
	if err := h.admins.Insert(admin); err != nil {
		var dup *data.DuplicateError
		if errors.As(err, &dup) {
			middleware.WriteValidationErrors(w, r, http.StatusConflict, "already_exists", "Administrator already exists",
				map[string][]string{"email": {"An administrator with this email already exists"}})
			return
		}
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create administrator", "")
		return
	}

	p, _ := middleware.GetPrincipal(r.Context())
	logger.LogInfo("Administrator %s (%s) created by %s", admin.Email, admin.Role, p.Email)
	middleware.WriteAPIResponse(w, r, http.StatusCreated, admin)
}

// DeleteAdmin removes an administrator. Nobody can delete their own account.
func (h *Handler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	id := mux.Vars(r)["id"]
	if p, ok := middleware.GetPrincipal(r.Context()); ok && p.ID == id {
		middleware.WriteAPIError(w, r, http.StatusConflict, "cannot_delete_self", "You cannot delete your own account", "")
		return
	}

	err := h.admins.Delete(id)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "Administrator not found", "")
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Failed to delete administrator", "")
		return
	}

	logger.LogInfo("Administrator %s deleted", id)
	middleware.WriteAPISuccess(w, r, map[string]string{"id": id})
}
