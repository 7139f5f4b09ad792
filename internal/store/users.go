package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shortlinkhq/shortlink/internal/model"
)

const userColumns = `id, email, password_hash, display_name, role, is_active, is_email_verified,
	google_id, avatar, token_version, last_seen_at, last_logout_at, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var role string
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &u.IsActive, &u.IsEmailVerified,
		&u.GoogleID, &u.Avatar, &u.TokenVersion, &u.LastSeenAt, &u.LastLogoutAt, &u.CreatedAt, &u.UpdatedAt,
	)
	u.Role = model.Role(role)
	return u, err
}

// CreateUserParams is the input to CreateUser.
type CreateUserParams struct {
	Email        string
	PasswordHash *string
	DisplayName  string
	Role         model.Role
	GoogleID     *string
	Avatar       *string
	EmailVerified bool
}

// CreateUser inserts a new User. TokenVersion starts at 0.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (model.User, error) {
	if p.Role == "" {
		p.Role = model.RoleUser
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, display_name, role, is_active, is_email_verified,
			google_id, avatar, token_version)
		VALUES ($1,$2,$3,$4,true,$5,$6,$7,0)
		RETURNING `+userColumns,
		p.Email, p.PasswordHash, p.DisplayName, string(p.Role), p.EmailVerified, p.GoogleID, p.Avatar,
	)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return model.User{}, ErrDuplicateEmail
		}
		return model.User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetUserByID loads a User by ID.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail loads a User by normalized (lowercased, trimmed) email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// GetUserByGoogleID loads a User previously linked to a Google OAuth
// identity.
func (s *Store) GetUserByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("getting user by google id: %w", err)
	}
	return u, nil
}

// TouchLastSeen stamps lastSeenAt to now, e.g. on successful login.
func (s *Store) TouchLastSeen(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_seen_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("touching last seen: %w", err)
	}
	return nil
}

// TouchLastLogout stamps lastLogoutAt to now.
func (s *Store) TouchLastLogout(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_logout_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("touching last logout: %w", err)
	}
	return nil
}

// BumpTokenVersion atomically increments a User's tokenVersion, the
// logout-all primitive (§4.5): every previously-issued token fails
// verification the moment this commits.
func (s *Store) BumpTokenVersion(ctx context.Context, userID uuid.UUID) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = $1 RETURNING token_version`,
		userID,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("bumping token version: %w", err)
	}
	return v, nil
}
