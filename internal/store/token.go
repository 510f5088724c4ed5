package store

import (
	"context"
	"time"
)

// RevokeToken records a token ID as logged out until it would have expired anyway.
func (s *Store) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, userID, expiresAt.UTC(),
	)
	return err
}

// IsTokenRevoked reports whether a token ID was revoked.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return rowExists(ctx, s.db, `SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti)
}

// CleanupRevokedTokens removes revocations of tokens that have expired.
func (s *Store) CleanupRevokedTokens(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, s.now())
	return err
}
