package data

import (
	"database/sql"
	"fmt"
	"time"
)

// ResetToken is a single-use password reset grant. Only the token hash is stored.
type ResetToken struct {
	TokenHash   string
	AccountType string // "user" or "admin"
	AccountID   string
	ExpiresAt   time.Time
	Used        bool
	CreatedAt   time.Time
}

type ResetTokenRepository struct{}

func NewResetTokenRepository() *ResetTokenRepository {
	return &ResetTokenRepository{}
}

func (r *ResetTokenRepository) Insert(t ResetToken) error {
	_, err := ExecDB(`
		INSERT INTO reset_tokens (token_hash, account_type, account_id, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		t.TokenHash, t.AccountType, t.AccountID, formatTime(t.ExpiresAt), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reset token: %w", err)
	}
	return nil
}

// Consume marks an unused, unexpired token of the given account type as used and returns it.
// A token can be consumed at most once.
func (r *ResetTokenRepository) Consume(tokenHash, accountType string, now time.Time) (*ResetToken, error) {
	var t ResetToken
	err := WithTx(func(tx *sql.Tx) error {
		var expiresAt, createdAt string
		err := tx.QueryRow(`
			SELECT token_hash, account_type, account_id, expires_at, created_at
			FROM reset_tokens
			WHERE token_hash = ? AND account_type = ? AND used = 0 AND expires_at > ?`,
			tokenHash, accountType, formatTime(now)).Scan(&t.TokenHash, &t.AccountType, &t.AccountID, &expiresAt, &createdAt)
		if err != nil {
			return err
		}
		if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}

		result, err := tx.Exec(`UPDATE reset_tokens SET used = 1 WHERE token_hash = ? AND used = 0`, tokenHash)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		t.Used = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteStale removes used tokens and tokens that expired before now.
func (r *ResetTokenRepository) DeleteStale(now time.Time) (int, error) {
	result, err := ExecDB(`DELETE FROM reset_tokens WHERE used = 1 OR expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale reset tokens: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}
