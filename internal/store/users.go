package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/tracker/internal/policy"
)

// User is a registered account.
type User struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      policy.Role `json:"role"`
	Token     string      `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
}

const userColumns = `id, name, email, role, token, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Token, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = policy.Role(role)
	return &u, nil
}

// CreateUser inserts u. The email is stored lower-cased; a duplicate email
// or token yields ErrConflict.
func (s *Store) CreateUser(u *User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, name, email, role, token, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.Token, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s already exists", ErrConflict, u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(id string) (*User, error) {
	return s.getUserWhere("id = ?", id)
}

// GetUserByToken returns the user owning an API token.
func (s *Store) GetUserByToken(token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.getUserWhere("token = ?", token)
}

func (s *Store) getUserWhere(where string, arg any) (*User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}
