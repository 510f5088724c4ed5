package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const userColumns = `id, name, email, password_hash, role, created_at`

// CreateUser inserts a new user. Email addresses are stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = newID()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apierr.Validation("email already registered")
	}
	if err != nil {
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return err
	}
	slog.Info("created user", "id", u.ID, "role", u.Role)
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail returns a user by email, or nil if none exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil if none exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// UpsertFCMToken stores the push token for a user, replacing any previous one.
func (s *Store) UpsertFCMToken(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fcm_tokens (user_id, token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		userID, token, s.now(),
	)
	return err
}

// ClassroomTokens returns the push tokens of every student enrolled in a classroom.
func (s *Store) ClassroomTokens(ctx context.Context, classroomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.token FROM fcm_tokens t
		 JOIN enrollments e ON e.student_id = t.user_id
		 WHERE e.classroom_id = ? AND t.token != ''
		 ORDER BY t.user_id`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}
