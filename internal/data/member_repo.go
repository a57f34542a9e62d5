package data

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Account types
const (
	AccountIndividual   = "individual"
	AccountOrganization = "organization"
)

type Member struct {
	ID                 string     `json:"id"`
	AccountType        string     `json:"account_type"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	FirstName          string     `json:"first_name,omitempty"`
	LastName           string     `json:"last_name,omitempty"`
	OrganizationName   string     `json:"organization_name,omitempty"`
	RegistrationNumber string     `json:"registration_number,omitempty"`
	Profession         string     `json:"profession,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	Country            string     `json:"country,omitempty"`
	Verified           bool       `json:"verified"`
	VerificationCode   string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
}

// DisplayName is the person's name, or the organization name for organization accounts.
func (m Member) DisplayName() string {
	if m.AccountType == AccountOrganization && m.OrganizationName != "" {
		return m.OrganizationName
	}
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	if name == "" {
		return m.Username
	}
	return name
}

// =============================================================================
// MEMBER REPOSITORY
// =============================================================================

type MemberRepository struct{}

func NewMemberRepository() *MemberRepository {
	return &MemberRepository{}
}

const memberColumns = `id, account_type, username, email, password_hash, first_name, last_name,
	organization_name, registration_number, profession, phone, country, verified,
	verification_code, created_at, verified_at`

const insertMemberStmt = `
	INSERT INTO members (` + memberColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func memberArgs(m Member) []interface{} {
	return []interface{}{
		m.ID, m.AccountType, m.Username, strings.ToLower(m.Email), m.PasswordHash,
		m.FirstName, m.LastName, m.OrganizationName, m.RegistrationNumber, m.Profession,
		m.Phone, m.Country, m.Verified, m.VerificationCode, formatTime(m.CreatedAt),
		formatNullableTime(m.VerifiedAt),
	}
}

func (r *MemberRepository) Insert(m Member) error {
	if _, err := ExecDB(insertMemberStmt, memberArgs(m)...); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// InsertWithMembership stores a member and its first membership record atomically.
func (r *MemberRepository) InsertWithMembership(m Member, rec MembershipRecord) error {
	return WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(insertMemberStmt, memberArgs(m)...); err != nil {
			return err
		}
		if _, err := tx.Exec(insertMembershipStmt, membershipArgs(rec)...); err != nil {
			return err
		}
		return nil
	})
}

func (r *MemberRepository) GetByID(id string) (*Member, error) {
	return r.getOne(`SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
}

func (r *MemberRepository) GetByEmail(email string) (*Member, error) {
	return r.getOne(`SELECT `+memberColumns+` FROM members WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// Taken reports which of email and username already belong to a member.
func (r *MemberRepository) Taken(email, username string) (emailTaken, usernameTaken bool, err error) {
	var emailCount, usernameCount int
	err = QueryRowDB(`
		SELECT
			(SELECT COUNT(*) FROM members WHERE email = ?),
			(SELECT COUNT(*) FROM members WHERE username = ?)`,
		[]interface{}{strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(username)},
		&emailCount, &usernameCount)
	if err != nil {
		return false, false, fmt.Errorf("failed to check member uniqueness: %w", err)
	}
	return emailCount > 0, usernameCount > 0, nil
}

// SetVerificationCode replaces the pending verification code of an unverified member
// and clears its failed attempt count.
func (r *MemberRepository) SetVerificationCode(id, code string) error {
	result, err := ExecDB(`UPDATE members SET verification_code = ?, verify_attempts = 0 WHERE id = ? AND verified = 0`, code, id)
	if err != nil {
		return fmt.Errorf("failed to set verification code: %w", err)
	}
	return rowsAffected(result)
}

// RecordFailedVerification counts a wrong code against an unverified member and returns
// the new count. Reaching limit clears the pending code, so a fresh one must be requested.
func (r *MemberRepository) RecordFailedVerification(id string, limit int) (int, error) {
	var attempts int
	err := QueryRowDB(`
		UPDATE members SET
			verify_attempts = verify_attempts + 1,
			verification_code = CASE WHEN verify_attempts + 1 >= ? THEN '' ELSE verification_code END
		WHERE id = ? AND verified = 0
		RETURNING verify_attempts`,
		[]interface{}{limit, id}, &attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return attempts, nil
}

// VerifyAndActivate marks an unverified member verified and writes its activated
// membership term in one transaction.
func (r *MemberRepository) VerifyAndActivate(id string, at time.Time, rec MembershipRecord) error {
	return WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE members SET verified = 1, verification_code = '', verified_at = ? WHERE id = ? AND verified = 0`,
			formatTime(at), id)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}

		result, err = tx.Exec(updateTermStmt, updateTermArgs(rec)...)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func (r *MemberRepository) UpdatePassword(id, passwordHash string) error {
	result, err := ExecDB(`UPDATE members SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update member password: %w", err)
	}
	return rowsAffected(result)
}

// DeleteUnverifiedBefore removes registrations never verified since cutoff, at most limit rows,
// together with their pending memberships.
func (r *MemberRepository) DeleteUnverifiedBefore(cutoff time.Time, limit int) (int, error) {
	const stale = `SELECT id FROM members WHERE verified = 0 AND created_at < ? ORDER BY created_at LIMIT ?`

	var n int64
	err := WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM memberships WHERE member_id IN (`+stale+`)`, formatTime(cutoff), limit); err != nil {
			return err
		}
		result, err := tx.Exec(`DELETE FROM members WHERE id IN (`+stale+`)`, formatTime(cutoff), limit)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified members: %w", err)
	}
	return int(n), nil
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

func (r *MemberRepository) getOne(query string, arg string) (*Member, error) {
	var m Member
	var createdAt string
	var verifiedAt sql.NullString

	err := QueryRowDB(query, []interface{}{arg},
		&m.ID, &m.AccountType, &m.Username, &m.Email, &m.PasswordHash, &m.FirstName, &m.LastName,
		&m.OrganizationName, &m.RegistrationNumber, &m.Profession, &m.Phone, &m.Country, &m.Verified,
		&m.VerificationCode, &createdAt, &verifiedAt)
	if err != nil {
		return nil, err
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse member created_at: %w", err)
	}
	if m.VerifiedAt, err = parseNullableTime(verifiedAt); err != nil {
		return nil, fmt.Errorf("failed to parse member verified_at: %w", err)
	}
	return &m, nil
}
