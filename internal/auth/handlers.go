package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/logger"
	"medassoc/internal/middleware"
	"medassoc/internal/security"
)

// Reset token account types
const (
	AccountUser  = "user"
	AccountAdmin = "admin"
)

const resetTokenTTL = time.Hour

type Handler struct {
	members *data.MemberRepository
	admins  *data.AdminRepository
	resets  *data.ResetTokenRepository
	tokens  *TokenService
	mail    email.EmailConfig
	baseURL string
	now     func() time.Time
}

func NewHandler(tokens *TokenService, mail email.EmailConfig, baseURL string) *Handler {
	return &Handler{
		members: data.NewMemberRepository(),
		admins:  data.NewAdminRepository(),
		resets:  data.NewResetTokenRepository(),
		tokens:  tokens,
		mail:    mail,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email_format"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Account   interface{} `json:"account"`
}

// Login authenticates a verified member
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req loginRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	member, err := h.members.GetByEmail(req.Email)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Login failed", "")
		return
	}

	hash := ""
	if member != nil {
		hash = member.PasswordHash
	}
	if !CheckPassword(hash, req.Password) {
		logger.LogWarn("Failed member login for %s from %s", req.Email, logger.GetClientIP(r))
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", "")
		return
	}
	if !member.Verified {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "email_not_verified",
			"Please verify your email address before signing in", "")
		return
	}

	h.issue(w, r, middleware.Principal{ID: member.ID, Email: member.Email, Name: member.DisplayName(), Role: RoleMember}, member)
}

// AdminLogin authenticates an administrator
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req loginRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	admin, err := h.admins.GetByEmail(req.Email)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Login failed", "")
		return
	}

	hash := ""
	if admin != nil {
		hash = admin.PasswordHash
	}
	if !CheckPassword(hash, req.Password) {
		logger.LogWarn("Failed admin login for %s from %s", req.Email, logger.GetClientIP(r))
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", "")
		return
	}

	h.issue(w, r, middleware.Principal{ID: admin.ID, Email: admin.Email, Name: admin.Name, Role: admin.Role}, admin)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, p middleware.Principal, account interface{}) {
	token, expiresAt, err := h.tokens.Issue(p)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Login failed", "")
		return
	}
	logger.LogInfo("Issued %s session for %s", p.Role, p.Email)
	middleware.WriteAPISuccess(w, r, sessionResponse{Token: token, ExpiresAt: expiresAt, Account: account})
}

type forgotRequest struct {
	Email       string `json:"email" validate:"required,email_format"`
	AccountType string `json:"account_type" validate:"omitempty,oneof=user admin"`
}

const forgotMessage = "If an account exists for that address, a reset link has been sent."

// ForgotPassword issues a reset link. The response does not reveal whether the account exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req forgotRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.AccountType == "" {
		req.AccountType = AccountUser
	}

	if err := h.startReset(req.Email, req.AccountType); err != nil {
		logger.LogError("Password reset request for %s (%s) failed: %v", req.Email, req.AccountType, err)
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"message": forgotMessage})
}

func (h *Handler) startReset(address, accountType string) error {
	var accountID, name, path string
	switch accountType {
	case AccountAdmin:
		admin, err := h.admins.GetByEmail(address)
		if err != nil {
			return ignoreNotFound(err)
		}
		accountID, name, path = admin.ID, admin.Name, "/admin/reset-password"
	default:
		member, err := h.members.GetByEmail(address)
		if err != nil {
			return ignoreNotFound(err)
		}
		accountID, name, path = member.ID, member.DisplayName(), "/reset-password"
	}

	token, err := security.GenerateToken(32)
	if err != nil {
		return err
	}
	now := h.now()
	if err := h.resets.Insert(data.ResetToken{
		TokenHash:   security.HashToken(token),
		AccountType: accountType,
		AccountID:   accountID,
		ExpiresAt:   now.Add(resetTokenTTL),
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	logger.LogInfo("Issued %s password reset token for %s", accountType, address)
	return email.SendPasswordReset(h.mail, email.PasswordResetData{
		Name:      name,
		Email:     address,
		ResetURL:  h.baseURL + path + "?token=" + url.QueryEscape(token),
		ExpiresIn: "1 hour",
	})
}

func ignoreNotFound(err error) error {
	if errors.Is(err, data.ErrNotFound) {
		return nil
	}
	return err
}

type resetRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// ResetPassword completes a member password reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.resetPassword(w, r, AccountUser)
}

// AdminResetPassword completes an administrator password reset
func (h *Handler) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	h.resetPassword(w, r, AccountAdmin)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request, accountType string) {
	logger.LogHTTPRequest(r)

	var req resetRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := ValidatePasswordPair(req.NewPassword, req.ConfirmPassword); err != nil {
		field := "new_password"
		if errors.Is(err, ErrPasswordMismatch) {
			field = "confirm_password"
		}
		middleware.WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed", "Invalid password",
			map[string][]string{field: {capitalize(err.Error())}})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Password reset failed", "")
		return
	}

	grant, err := h.resets.Consume(security.HashToken(req.Token), accountType, h.now())
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_token",
				"This reset link is invalid or has expired", "")
			return
		}
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Password reset failed", "")
		return
	}

	if accountType == AccountAdmin {
		err = h.admins.UpdatePassword(grant.AccountID, hash)
	} else {
		err = h.members.UpdatePassword(grant.AccountID, hash)
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Password reset failed", "")
		return
	}

	logger.LogInfo("Password reset completed for %s account %s", accountType, grant.AccountID)
	middleware.WriteAPISuccess(w, r, map[string]string{"message": "Password updated"})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
