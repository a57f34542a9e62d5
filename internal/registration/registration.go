package registration

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/logger"
	"medassoc/internal/metrics"
	"medassoc/internal/middleware"
	"medassoc/internal/security"
)

const (
	duplicateThreshold = time.Minute * 3
	membershipTerm     = 1 // years
	numberAttempts     = 5
	maxVerifyAttempts  = 5 // wrong codes before a new one must be requested
)

// Field messages for conflicts. Clients match on the field key.
const (
	MsgEmailTaken    = "Email already registered"
	MsgUsernameTaken = "Username taken"
)

// duplicateGuard remembers recent submissions so a double click does not create two accounts.
type duplicateGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newDuplicateGuard(window time.Duration) *duplicateGuard {
	return &duplicateGuard{seen: make(map[string]time.Time), window: window}
}

// check reports whether key was submitted within the window, recording it otherwise.
func (g *duplicateGuard) check(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, k)
		}
	}
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.window {
		return true
	}
	g.seen[key] = now
	return false
}

func (g *duplicateGuard) forget(key string) {
	g.mu.Lock()
	delete(g.seen, key)
	g.mu.Unlock()
}

func submissionKey(f Form) string {
	base := strings.ToLower(f.Email) + "|" + strings.ToLower(f.Username)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(base)))
}

type Handler struct {
	members     *data.MemberRepository
	memberships *data.MembershipRepository
	catalog     *catalog.Service
	mail        email.EmailConfig
	baseURL     string
	requireCSRF bool
	duplicates  *duplicateGuard
	now         func() time.Time
}

func NewHandler(cat *catalog.Service, mail email.EmailConfig, baseURL string, requireCSRF bool) *Handler {
	return &Handler{
		members:     data.NewMemberRepository(),
		memberships: data.NewMembershipRepository(),
		catalog:     cat,
		mail:        mail,
		baseURL:     strings.TrimRight(baseURL, "/"),
		requireCSRF: requireCSRF,
		duplicates:  newDuplicateGuard(duplicateThreshold),
		now:         time.Now,
	}
}

type registerResponse struct {
	MemberID         string `json:"member_id"`
	MembershipNumber string `json:"membership_number"`
	Status           string `json:"status"`
	RedirectURL      string `json:"redirect_url"`
}

// Register processes a membership application
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var form Form
	if err := middleware.ParseJSONRequest(w, r, &form); err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	form.Normalize()

	// Honeypot trap
	if form.HiddenField != "" {
		logger.LogWarn("Honeypot triggered by %s", logger.GetClientIP(r))
		metrics.RecordRegistration(form.AccountType, metrics.OutcomeInvalid)
		middleware.WriteAPIError(w, r, http.StatusForbidden, "invalid_submission", "Invalid submission", "")
		return
	}

	if h.requireCSRF {
		if form.CSRFToken == "" || !security.ValidateCSRFToken(form.CSRFToken) {
			logger.LogHTTPError(r, http.StatusForbidden, fmt.Errorf("missing or invalid CSRF token"))
			middleware.WriteAPIError(w, r, http.StatusForbidden, "invalid_csrf_token", "Invalid or expired form token", "")
			return
		}
	}

	if fields := h.validate(form); fields != nil {
		metrics.RecordRegistration(form.AccountType, metrics.OutcomeInvalid)
		middleware.WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed",
			"Invalid registration details", fields)
		return
	}

	key := submissionKey(form)
	if h.duplicates.check(key, h.now()) {
		logger.LogWarn("Duplicate registration detected for %s", form.Email)
		metrics.RecordRegistration(form.AccountType, metrics.OutcomeDuplicate)
		middleware.WriteAPIError(w, r, http.StatusTooManyRequests, "duplicate_submission",
			"Duplicate detected. Please wait before submitting again.", "")
		return
	}

	emailTaken, usernameTaken, err := h.members.Taken(form.Email, form.Username)
	if err != nil {
		h.duplicates.forget(key)
		h.fail(w, r, form, err)
		return
	}
	if emailTaken || usernameTaken {
		h.duplicates.forget(key)
		h.conflict(w, r, form, emailTaken, usernameTaken)
		return
	}

	member, rec, code, err := h.create(form)
	if err != nil {
		h.duplicates.forget(key)
		var dup *data.DuplicateError
		if errors.As(err, &dup) {
			h.conflict(w, r, form, dup.Field == "email", dup.Field == "username")
			return
		}
		h.fail(w, r, form, err)
		return
	}

	tier, _ := h.catalog.Tier(rec.TierID)
	verifyPath := "/verify-email?email=" + url.QueryEscape(member.Email)
	if err := email.SendVerification(h.mail, email.VerificationData{
		Name:             member.DisplayName(),
		Email:            member.Email,
		Code:             code,
		MembershipNumber: rec.MembershipNumber,
		TierName:         tier.Name,
		VerifyURL:        h.baseURL + verifyPath,
	}); err != nil {
		logger.LogError("Verification email for %s failed: %v", member.Email, err)
	}

	logger.LogInfo("Registration accepted: member=%s membership=%s tier=%s type=%s ip=%s",
		member.ID, rec.MembershipNumber, rec.TierID, member.AccountType, logger.GetClientIP(r))
	metrics.RecordRegistration(member.AccountType, metrics.OutcomeCreated)

	middleware.WriteAPIResponse(w, r, http.StatusCreated, registerResponse{
		MemberID:         member.ID,
		MembershipNumber: rec.MembershipNumber,
		Status:           rec.Status,
		RedirectURL:      verifyPath,
	})
}

func (h *Handler) validate(form Form) map[string][]string {
	fields := form.Validate()
	if form.TierID == "" {
		return fields
	}
	tier, ok := h.catalog.Tier(form.TierID)
	msg := ""
	switch {
	case !ok:
		msg = "Unknown membership category"
	case form.AccountType != "" && !tier.AllowsAccountType(form.AccountType):
		msg = fmt.Sprintf("%s is not available for %s accounts", tier.Name, form.AccountType)
	}
	if msg != "" {
		if fields == nil {
			fields = map[string][]string{}
		}
		fields["tier_id"] = append(fields["tier_id"], msg)
	}
	return fields
}

func (h *Handler) conflict(w http.ResponseWriter, r *http.Request, form Form, emailTaken, usernameTaken bool) {
	fields := map[string][]string{}
	if emailTaken {
		fields["email"] = []string{MsgEmailTaken}
	}
	if usernameTaken {
		fields["username"] = []string{MsgUsernameTaken}
	}
	logger.LogInfo("Registration conflict for %s / %s: %v", form.Email, form.Username, fields)
	metrics.RecordRegistration(form.AccountType, metrics.OutcomeDuplicate)
	middleware.WriteValidationErrors(w, r, http.StatusConflict, "already_registered", "Registration failed", fields)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, form Form, err error) {
	logger.LogHTTPError(r, http.StatusInternalServerError, err)
	metrics.RecordRegistration(form.AccountType, metrics.OutcomeError)
	middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Registration failed", "")
}

// create stores the member with a pending membership, retrying on membership number collisions.
func (h *Handler) create(form Form) (data.Member, data.MembershipRecord, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		return data.Member{}, data.MembershipRecord{}, "", fmt.Errorf("failed to hash password: %w", err)
	}
	code, err := security.GenerateVerificationCode()
	if err != nil {
		return data.Member{}, data.MembershipRecord{}, "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	tier, _ := h.catalog.Tier(form.TierID)
	now := h.now().UTC()

	member := data.Member{
		ID:                 uuid.NewString(),
		AccountType:        form.AccountType,
		Username:           form.Username,
		Email:              form.Email,
		PasswordHash:       string(hash),
		FirstName:          form.FirstName,
		LastName:           form.LastName,
		OrganizationName:   form.OrganizationName,
		RegistrationNumber: form.RegistrationNumber,
		Profession:         form.Profession,
		Phone:              form.Phone,
		Country:            form.Country,
		VerificationCode:   code,
		CreatedAt:          now,
	}

	for attempt := 1; attempt <= numberAttempts; attempt++ {
		number, err := newMembershipNumber(now)
		if err != nil {
			return data.Member{}, data.MembershipRecord{}, "", err
		}
		rec := data.MembershipRecord{
			MembershipNumber: number,
			MemberID:         member.ID,
			TierID:           tier.ID,
			AmountPaid:       decimal.Zero,
			Status:           data.MembershipPending,
			CPDRequired:      tier.CPDRequired,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		err = h.members.InsertWithMembership(member, rec)
		var dup *data.DuplicateError
		if errors.As(err, &dup) && dup.Field == "membership_number" {
			logger.LogWarn("Membership number %s collided (attempt %d)", number, attempt)
			continue
		}
		if err != nil {
			return data.Member{}, data.MembershipRecord{}, "", err
		}
		return member, rec, code, nil
	}
	return data.Member{}, data.MembershipRecord{}, "", fmt.Errorf("could not allocate a membership number after %d attempts", numberAttempts)
}

// newMembershipNumber returns MA-<year>-<6 digits>.
func newMembershipNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MA-%d-%06d", now.Year(), n.Int64()), nil
}

type verifyRequest struct {
	Email string `json:"email" validate:"required,email_format"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyEmail confirms the address and activates the pending membership for one year
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req verifyRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	member, err := h.members.GetByEmail(req.Email)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_code", "The verification code is not valid", "")
		return
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Verification failed", "")
		return
	}

	rec, err := h.memberships.GetByMemberID(member.ID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Verification failed", "")
		return
	}

	if member.Verified {
		middleware.WriteAPISuccess(w, r, map[string]interface{}{"verified": true, "membership": rec})
		return
	}
	if member.VerificationCode == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "code_expired",
			"Too many incorrect attempts. Request a new verification code", "")
		return
	}
	if subtle.ConstantTimeCompare([]byte(member.VerificationCode), []byte(req.Code)) != 1 {
		attempts, err := h.members.RecordFailedVerification(member.ID, maxVerifyAttempts)
		if err != nil && !errors.Is(err, data.ErrNotFound) {
			logger.LogHTTPError(r, http.StatusInternalServerError, err)
		}
		logger.LogWarn("Wrong verification code for %s from %s (attempt %d)", member.Email, logger.GetClientIP(r), attempts)
		if attempts >= maxVerifyAttempts {
			middleware.WriteAPIError(w, r, http.StatusBadRequest, "code_expired",
				"Too many incorrect attempts. Request a new verification code", "")
			return
		}
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_code", "The verification code is not valid", "")
		return
	}

	fee, err := h.catalog.RenewalFee(rec.TierID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Verification failed", "")
		return
	}

	now := h.now().UTC()
	expires := now.AddDate(membershipTerm, 0, 0)
	rec.Status = data.MembershipActive
	rec.AmountPaid = fee
	rec.StartedAt = &now
	rec.ExpiresAt = &expires
	rec.UpdatedAt = now

	if err := h.members.VerifyAndActivate(member.ID, now, *rec); err != nil {
		// A concurrent request with the same code won the race
		if errors.Is(err, data.ErrNotFound) {
			if h.verifiedElsewhere(w, r, member.ID) {
				return
			}
		}
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Verification failed", "")
		return
	}

	logger.LogInfo("Member %s verified, membership %s active until %s", member.ID, rec.MembershipNumber, expires.Format("2006-01-02"))
	metrics.RecordMembershipChange("activate")
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"verified": true, "membership": rec})
}

// verifiedElsewhere answers with the current membership when memberID is already verified.
func (h *Handler) verifiedElsewhere(w http.ResponseWriter, r *http.Request, memberID string) bool {
	m, err := h.members.GetByID(memberID)
	if err != nil || !m.Verified {
		return false
	}
	rec, err := h.memberships.GetByMemberID(memberID)
	if err != nil {
		return false
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"verified": true, "membership": rec})
	return true
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email_format"`
}

// ResendVerification issues a fresh code to an unverified member. The response is the same either way.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req resendRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.resend(req.Email); err != nil {
		logger.LogError("Resending verification to %s failed: %v", req.Email, err)
	}
	middleware.WriteAPISuccess(w, r, map[string]string{
		"message": "If the address is awaiting verification, a new code has been sent.",
	})
}

func (h *Handler) resend(address string) error {
	member, err := h.members.GetByEmail(address)
	if errors.Is(err, data.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if member.Verified {
		return nil
	}

	code, err := security.GenerateVerificationCode()
	if err != nil {
		return err
	}
	if err := h.members.SetVerificationCode(member.ID, code); err != nil {
		return err
	}

	rec, err := h.memberships.GetByMemberID(member.ID)
	if err != nil {
		return err
	}
	tier, _ := h.catalog.Tier(rec.TierID)
	return email.SendVerification(h.mail, email.VerificationData{
		Name:             member.DisplayName(),
		Email:            member.Email,
		Code:             code,
		MembershipNumber: rec.MembershipNumber,
		TierName:         tier.Name,
		VerifyURL:        h.baseURL + "/verify-email?email=" + url.QueryEscape(member.Email),
	})
}
