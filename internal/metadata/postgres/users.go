package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/healthdocs/doctracker/internal/metrics"
)

// UserRow maps to the users table.
type UserRow struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserUpdate holds a partial user update. Nil fields are left unchanged.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Settings  map[string]any
}

const userColumns = `id, email, first_name, last_name, settings, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*UserRow, error) {
	var u UserRow
	var settings []byte
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &settings,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &u.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if u.Settings == nil {
		u.Settings = map[string]any{}
	}
	return &u, nil
}

// CreateUser inserts a user. A duplicate email yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *UserRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_user", time.Since(start)) }()

	if u.Settings == nil {
		u.Settings = map[string]any{}
	}
	settings, err := json.Marshal(u.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.FirstName, u.LastName, string(settings), u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*UserRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_user", time.Since(start)) }()

	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail looks a user up by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*UserRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_user_by_email", time.Since(start)) }()

	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdateUser applies a partial update. Settings, when given, replace the
// stored settings object.
func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*UserRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_user", time.Since(start)) }()

	var settings any
	if upd.Settings != nil {
		data, err := json.Marshal(upd.Settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings: %w", err)
		}
		settings = string(data)
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = COALESCE($2, email),
		    first_name = COALESCE($3, first_name),
		    last_name = COALESCE($4, last_name),
		    settings = COALESCE($5::jsonb, settings),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, id, upd.Email, upd.FirstName, upd.LastName, settings))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	return u, nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_user", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns users, newest first.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]*UserRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_users", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*UserRow
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}
