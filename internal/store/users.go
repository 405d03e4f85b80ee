package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a persisted access record.
type User struct {
	Address     string
	DisplayName string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GetUser returns the user for address or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, address string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, display_name, role, created_at, updated_at
		FROM users WHERE address = ?`, address)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// InsertUser creates u unless the address already exists. Returns whether a
// row was created.
func (s *Store) InsertUser(ctx context.Context, u *User) (bool, error) {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (address, display_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.Address, u.DisplayName, u.Role, u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateRole sets the role of address. Returns false if the user is unknown.
func (s *Store) UpdateRole(ctx context.Context, address, role string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE address = ?`,
		role, time.Now().Unix(), address)
	if err != nil {
		return false, fmt.Errorf("update role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateDisplayName refreshes the stored profile name.
func (s *Store) UpdateDisplayName(ctx context.Context, address, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, updated_at = ? WHERE address = ?`,
		name, time.Now().Unix(), address)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}

// ListUsers returns users with the given role, or every user when role is
// empty, oldest first.
func (s *Store) ListUsers(ctx context.Context, role string) ([]User, error) {
	query := `SELECT address, display_name, role, created_at, updated_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at, address`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of users and how many have role.
func (s *Store) CountUsers(ctx context.Context, role string) (total, withRole int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0)
		FROM users`, role).Scan(&total, &withRole)
	if err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, withRole, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var created, updated int64
	if err := row.Scan(&u.Address, &u.DisplayName, &u.Role, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	return &u, nil
}
