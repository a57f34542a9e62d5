package data

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Membership statuses
const (
	MembershipPending = "pending"
	MembershipActive  = "active"
	MembershipExpired = "expired"
)

type MembershipRecord struct {
	MembershipNumber string          `json:"membership_number"`
	MemberID         string          `json:"member_id"`
	TierID           string          `json:"tier_id"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	Status           string          `json:"status"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CPDPoints        int             `json:"cpd_points"`
	CPDRequired      int             `json:"cpd_required"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MembershipReportRow is a record joined with the owning member's account type.
type MembershipReportRow struct {
	MembershipRecord
	AccountType string
}

// =============================================================================
// MEMBERSHIP REPOSITORY
// =============================================================================

type MembershipRepository struct{}

func NewMembershipRepository() *MembershipRepository {
	return &MembershipRepository{}
}

const membershipColumns = `membership_number, member_id, tier_id, amount_paid, status, started_at,
	expires_at, cpd_points, cpd_required, created_at, updated_at`

const insertMembershipStmt = `
	INSERT INTO memberships (` + membershipColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func membershipArgs(rec MembershipRecord) []interface{} {
	return []interface{}{
		rec.MembershipNumber, rec.MemberID, rec.TierID, rec.AmountPaid.StringFixed(2), rec.Status,
		formatNullableTime(rec.StartedAt), formatNullableTime(rec.ExpiresAt), rec.CPDPoints,
		rec.CPDRequired, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	}
}

func (r *MembershipRepository) Insert(rec MembershipRecord) error {
	if _, err := ExecDB(insertMembershipStmt, membershipArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

func (r *MembershipRepository) GetByNumber(number string) (*MembershipRecord, error) {
	return r.getOne(`SELECT `+membershipColumns+` FROM memberships WHERE membership_number = ?`,
		strings.ToUpper(strings.TrimSpace(number)))
}

func (r *MembershipRepository) GetByMemberID(memberID string) (*MembershipRecord, error) {
	return r.getOne(`SELECT `+membershipColumns+` FROM memberships WHERE member_id = ?`, memberID)
}

// FindByNumberOrEmail looks a record up by membership number, falling back to the member's email.
func (r *MembershipRepository) FindByNumberOrEmail(q string) (*MembershipRecord, error) {
	q = strings.TrimSpace(q)
	if strings.Contains(q, "@") {
		return r.getOne(`
			SELECT `+prefixed("ms.", membershipColumns)+`
			FROM memberships ms JOIN members m ON m.id = ms.member_id
			WHERE m.email = ?`, strings.ToLower(q))
	}
	return r.GetByNumber(q)
}

const updateTermStmt = `
	UPDATE memberships
	SET tier_id = ?, amount_paid = ?, status = ?, started_at = ?, expires_at = ?,
		cpd_points = ?, cpd_required = ?, updated_at = ?
	WHERE membership_number = ?`

func updateTermArgs(rec MembershipRecord) []interface{} {
	return []interface{}{
		rec.TierID, rec.AmountPaid.StringFixed(2), rec.Status,
		formatNullableTime(rec.StartedAt), formatNullableTime(rec.ExpiresAt),
		rec.CPDPoints, rec.CPDRequired, formatTime(rec.UpdatedAt), rec.MembershipNumber,
	}
}

// UpdateTerm rewrites the tier, payment, validity window and CPD tally of a record.
func (r *MembershipRepository) UpdateTerm(rec MembershipRecord) error {
	result, err := ExecDB(updateTermStmt, updateTermArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to update membership term: %w", err)
	}
	return rowsAffected(result)
}

// AddCPDPoints credits points to the member's active membership.
func (r *MembershipRepository) AddCPDPoints(memberID string, points int, at time.Time) error {
	result, err := ExecDB(`UPDATE memberships SET cpd_points = cpd_points + ?, updated_at = ? WHERE member_id = ? AND status = ?`,
		points, formatTime(at), memberID, MembershipActive)
	if err != nil {
		return fmt.Errorf("failed to add CPD points: %w", err)
	}
	return rowsAffected(result)
}

// ExpireLapsed marks active records whose expiry has passed as expired.
func (r *MembershipRepository) ExpireLapsed(now time.Time) (int, error) {
	result, err := ExecDB(`
		UPDATE memberships SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		MembershipExpired, formatTime(now), MembershipActive, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire memberships: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// ListByYear returns records created in the given year, oldest first.
func (r *MembershipRepository) ListByYear(year int) ([]MembershipReportRow, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	rows, err := QueryDB(`
		SELECT `+prefixed("ms.", membershipColumns)+`, m.account_type
		FROM memberships ms JOIN members m ON m.id = ms.member_id
		WHERE ms.created_at >= ? AND ms.created_at < ?
		ORDER BY ms.created_at`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships by year: %w", err)
	}
	defer rows.Close()

	var result []MembershipReportRow
	for rows.Next() {
		var row MembershipReportRow
		s := newMembershipScan(&row.MembershipRecord)
		if err := rows.Scan(append(s.dest(), &row.AccountType)...); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		if err := s.populate(); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership rows: %w", err)
	}
	return result, nil
}

// =============================================================================
// SCANNING AND POPULATION HELPERS
// =============================================================================

type membershipScan struct {
	rec                  *MembershipRecord
	amount               string
	startedAt, expiresAt sql.NullString
	createdAt, updatedAt string
}

func newMembershipScan(rec *MembershipRecord) *membershipScan {
	return &membershipScan{rec: rec}
}

func (s *membershipScan) dest() []interface{} {
	return []interface{}{
		&s.rec.MembershipNumber, &s.rec.MemberID, &s.rec.TierID, &s.amount, &s.rec.Status,
		&s.startedAt, &s.expiresAt, &s.rec.CPDPoints, &s.rec.CPDRequired, &s.createdAt, &s.updatedAt,
	}
}

func (s *membershipScan) populate() error {
	var err error
	if s.rec.AmountPaid, err = decimal.NewFromString(s.amount); err != nil {
		return fmt.Errorf("failed to parse amount_paid %q: %w", s.amount, err)
	}
	if s.rec.StartedAt, err = parseNullableTime(s.startedAt); err != nil {
		return fmt.Errorf("failed to parse started_at: %w", err)
	}
	if s.rec.ExpiresAt, err = parseNullableTime(s.expiresAt); err != nil {
		return fmt.Errorf("failed to parse expires_at: %w", err)
	}
	if s.rec.CreatedAt, err = parseTime(s.createdAt); err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}
	if s.rec.UpdatedAt, err = parseTime(s.updatedAt); err != nil {
		return fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return nil
}

func (r *MembershipRepository) getOne(query string, args ...interface{}) (*MembershipRecord, error) {
	var rec MembershipRecord
	s := newMembershipScan(&rec)
	if err := QueryRowDB(query, args, s.dest()...); err != nil {
		return nil, err
	}
	if err := s.populate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// prefixed qualifies every column in a comma separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
