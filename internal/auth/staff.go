package auth

import (
	"errors"
	"fmt"

	"medassoc/internal/data"
	"medassoc/internal/middleware"
)

// StaffAuthenticator resolves admin tokens against the stored admin account.
// Role, email and name come from the database row, not the token claims.
type StaffAuthenticator struct {
	tokens *TokenService
	admins *data.AdminRepository
}

func NewStaffAuthenticator(tokens *TokenService) *StaffAuthenticator {
	return &StaffAuthenticator{tokens: tokens, admins: data.NewAdminRepository()}
}

// Authenticate satisfies middleware.Authenticator.
func (s *StaffAuthenticator) Authenticate(tokenString string) (middleware.Principal, error) {
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return middleware.Principal{}, err
	}
	if claims.Role == RoleMember {
		return middleware.Principal{}, ErrInvalidToken
	}

	a, err := s.admins.GetByID(claims.Subject)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return middleware.Principal{}, fmt.Errorf("%w: admin account no longer exists", ErrInvalidToken)
		}
		return middleware.Principal{}, fmt.Errorf("failed to load admin: %w", err)
	}
	return middleware.Principal{ID: a.ID, Email: a.Email, Name: a.Name, Role: a.Role}, nil
}
