package data

import (
	"fmt"
	"strings"
	"time"
)

// Admin roles
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type AdminRepository struct{}

func NewAdminRepository() *AdminRepository {
	return &AdminRepository{}
}

const adminColumns = `id, email, name, role, password_hash, created_at`

func (r *AdminRepository) Insert(a Admin) error {
	_, err := ExecDB(`INSERT INTO admins (`+adminColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, strings.ToLower(strings.TrimSpace(a.Email)), a.Name, a.Role, a.PasswordHash, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	return nil
}

func (r *AdminRepository) GetByID(id string) (*Admin, error) {
	return r.getOne(`SELECT `+adminColumns+` FROM admins WHERE id = ?`, id)
}

func (r *AdminRepository) GetByEmail(email string) (*Admin, error) {
	return r.getOne(`SELECT `+adminColumns+` FROM admins WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *AdminRepository) List() ([]Admin, error) {
	rows, err := QueryDB(`SELECT ` + adminColumns + ` FROM admins ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	result := []Admin{}
	for rows.Next() {
		var a Admin
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse admin created_at: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *AdminRepository) Delete(id string) error {
	result, err := ExecDB(`DELETE FROM admins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	return rowsAffected(result)
}

func (r *AdminRepository) UpdatePassword(id, passwordHash string) error {
	result, err := ExecDB(`UPDATE admins SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update admin password: %w", err)
	}
	return rowsAffected(result)
}

func (r *AdminRepository) Count() (int, error) {
	var n int
	err := QueryRowDB(`SELECT COUNT(*) FROM admins`, nil, &n)
	return n, err
}

func (r *AdminRepository) getOne(query, arg string) (*Admin, error) {
	var a Admin
	var createdAt string
	if err := QueryRowDB(query, []interface{}{arg}, &a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse admin created_at: %w", err)
	}
	return &a, nil
}
