// Package membership handles renewal and upgrade of existing memberships.
package membership

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"medassoc/internal/catalog"
	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/logger"
	"medassoc/internal/metrics"
	"medassoc/internal/middleware"
)

var (
	ErrPending  = errors.New("membership is awaiting email verification")
	ErrInactive = errors.New("membership is not active")
)

type Handler struct {
	memberships *data.MembershipRepository
	members     *data.MemberRepository
	catalog     *catalog.Service
	mail        email.EmailConfig
	now         func() time.Time
}

func NewHandler(cat *catalog.Service, mail email.EmailConfig) *Handler {
	return &Handler{
		memberships: data.NewMembershipRepository(),
		members:     data.NewMemberRepository(),
		catalog:     cat,
		mail:        mail,
		now:         time.Now,
	}
}

// Summary is what the renewal and upgrade pages show about a membership.
type Summary struct {
	MembershipNumber string          `json:"membership_number"`
	MemberName       string          `json:"member_name"`
	AccountType      string          `json:"account_type"`
	TierID           string          `json:"tier_id"`
	TierName         string          `json:"tier_name"`
	Status           string          `json:"status"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	RenewalFee       decimal.Decimal `json:"renewal_fee"`
	RenewalDisplay   string          `json:"renewal_display"`
	UpgradeOptions   []catalog.Tier  `json:"upgrade_options"`
}

func (h *Handler) summarize(rec *data.MembershipRecord, member *data.Member) Summary {
	tier, _ := h.catalog.Tier(rec.TierID)
	targets := h.catalog.UpgradeTargets(rec.TierID, rec.AmountPaid, member.AccountType)
	if targets == nil {
		targets = []catalog.Tier{}
	}
	return Summary{
		MembershipNumber: rec.MembershipNumber,
		MemberName:       member.DisplayName(),
		AccountType:      member.AccountType,
		TierID:           rec.TierID,
		TierName:         tier.Name,
		Status:           rec.Status,
		AmountPaid:       rec.AmountPaid,
		ExpiresAt:        rec.ExpiresAt,
		RenewalFee:       tier.Fee,
		RenewalDisplay:   catalog.FormatAmount(tier.Fee),
		UpgradeOptions:   targets,
	}
}

// load finds a membership and its owner, writing the error response when it cannot.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, query string) (*data.MembershipRecord, *data.Member, bool) {
	if strings.TrimSpace(query) == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_query",
			"Enter a membership number or email address", "")
		return nil, nil, false
	}

	rec, err := h.memberships.FindByNumberOrEmail(query)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "membership_not_found",
			"No membership matches that number or email", "")
		return nil, nil, false
	}
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Lookup failed", "")
		return nil, nil, false
	}

	member, err := h.members.GetByID(rec.MemberID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Lookup failed", "")
		return nil, nil, false
	}
	return rec, member, true
}

// Lookup finds a membership by number or email for the renewal and upgrade pages
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	rec, member, ok := h.load(w, r, r.URL.Query().Get("q"))
	if !ok {
		return
	}
	middleware.WriteAPISuccess(w, r, h.summarize(rec, member))
}

type renewRequest struct {
	MembershipNumber string `json:"membership_number" validate:"required"`
}

// NextExpiry extends a term by one year from whichever is later, now or the current expiry.
func NextExpiry(now time.Time, current *time.Time) time.Time {
	from := now
	if current != nil && current.After(now) {
		from = *current
	}
	return from.AddDate(1, 0, 0)
}

// Renew charges the current tier fee and extends the membership by a year.
// CPD points restart at zero for the new membership year.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req renewRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	rec, member, ok := h.load(w, r, req.MembershipNumber)
	if !ok {
		return
	}
	if rec.Status == data.MembershipPending {
		writeStateError(w, r, ErrPending)
		return
	}

	fee, err := h.catalog.RenewalFee(rec.TierID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Renewal failed", "")
		return
	}

	now := h.now().UTC()
	expires := NextExpiry(now, rec.ExpiresAt)
	if rec.Status == data.MembershipExpired || rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	rec.ExpiresAt = &expires
	rec.Status = data.MembershipActive
	rec.AmountPaid = fee
	rec.CPDPoints = 0
	rec.UpdatedAt = now

	if err := h.memberships.UpdateTerm(*rec); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Renewal failed", "")
		return
	}

	tier, _ := h.catalog.Tier(rec.TierID)
	if err := email.SendRenewalConfirmation(h.mail, email.MembershipChangeData{
		Name:             member.DisplayName(),
		Email:            member.Email,
		MembershipNumber: rec.MembershipNumber,
		TierName:         tier.Name,
		AmountDue:        catalog.FormatAmount(fee),
		ExpiresAt:        expires,
	}); err != nil {
		logger.LogError("Renewal email for %s failed: %v", rec.MembershipNumber, err)
	}

	logger.LogInfo("Membership %s renewed until %s for %s", rec.MembershipNumber, expires.Format("2006-01-02"), fee.StringFixed(2))
	metrics.RecordMembershipChange("renew")
	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"membership": h.summarize(rec, member),
		"amount_due": fee,
		"display":    catalog.FormatAmount(fee),
	})
}

// quote prices an upgrade for rec, checking the membership state and account type.
func (h *Handler) quote(rec *data.MembershipRecord, member *data.Member, target string) (catalog.UpgradeQuote, error) {
	switch rec.Status {
	case data.MembershipPending:
		return catalog.UpgradeQuote{}, ErrPending
	case data.MembershipExpired:
		return catalog.UpgradeQuote{}, ErrInactive
	}

	q, err := h.catalog.QuoteUpgrade(rec.TierID, rec.AmountPaid, target)
	if err != nil {
		return q, err
	}
	tier, _ := h.catalog.Tier(q.ToTier)
	if !tier.AllowsAccountType(member.AccountType) {
		return catalog.UpgradeQuote{}, fmt.Errorf("%w: %s is not offered to %s accounts", catalog.ErrNotAnUpgrade, tier.Name, member.AccountType)
	}
	return q, nil
}

// UpgradeQuote prices an upgrade without applying it
func (h *Handler) UpgradeQuote(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	query := r.URL.Query()
	rec, member, ok := h.load(w, r, query.Get("membership_number"))
	if !ok {
		return
	}

	q, err := h.quote(rec, member, query.Get("target_tier"))
	if err != nil {
		writeStateError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, q)
}

type upgradeRequest struct {
	MembershipNumber string `json:"membership_number" validate:"required"`
	TargetTier       string `json:"target_tier" validate:"required"`
}

// Upgrade moves the membership to a higher tier. The expiry date is unchanged.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	var req upgradeRequest
	if !middleware.DecodeAndValidate(w, r, &req) {
		return
	}

	rec, member, ok := h.load(w, r, req.MembershipNumber)
	if !ok {
		return
	}

	q, err := h.quote(rec, member, req.TargetTier)
	if err != nil {
		writeStateError(w, r, err)
		return
	}

	tier, _ := h.catalog.Tier(q.ToTier)
	rec.TierID = tier.ID
	rec.AmountPaid = q.TargetFee
	rec.CPDRequired = tier.CPDRequired
	rec.UpdatedAt = h.now().UTC()

	if err := h.memberships.UpdateTerm(*rec); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Upgrade failed", "")
		return
	}

	change := email.MembershipChangeData{
		Name:             member.DisplayName(),
		Email:            member.Email,
		MembershipNumber: rec.MembershipNumber,
		TierName:         tier.Name,
		AmountDue:        q.Display,
	}
	if rec.ExpiresAt != nil {
		change.ExpiresAt = *rec.ExpiresAt
	}
	if err := email.SendUpgradeConfirmation(h.mail, change); err != nil {
		logger.LogError("Upgrade email for %s failed: %v", rec.MembershipNumber, err)
	}

	logger.LogInfo("Membership %s upgraded %s -> %s, due %s", rec.MembershipNumber, q.FromTier, q.ToTier, q.AmountDue.StringFixed(2))
	metrics.RecordMembershipChange("upgrade")
	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"membership": h.summarize(rec, member),
		"quote":      q,
	})
}

func writeStateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPending):
		middleware.WriteAPIError(w, r, http.StatusConflict, "membership_pending",
			"Verify your email address before changing this membership", "")
	case errors.Is(err, ErrInactive):
		middleware.WriteAPIError(w, r, http.StatusConflict, "membership_inactive",
			"Renew this membership before upgrading", "")
	case errors.Is(err, catalog.ErrUnknownTier):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "unknown_tier", "Unknown membership category", err.Error())
	case errors.Is(err, catalog.ErrNotAnUpgrade):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "not_an_upgrade",
			"The selected category is not an upgrade", err.Error())
	default:
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Request failed", "")
	}
}
