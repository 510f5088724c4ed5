package store

import (
	"context"
	"database/sql"
	"errors"
)

// SetMetadata upserts a key-value pair in the app_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func importKey(classroomID, path string) string {
	return "import:" + classroomID + ":" + path
}

// GetImportedFileHash returns the hash recorded when path was last ingested into a classroom.
func (s *Store) GetImportedFileHash(ctx context.Context, classroomID, path string) (string, error) {
	return s.GetMetadata(ctx, importKey(classroomID, path))
}

// SetImportedFileHash records the hash of an ingested file.
func (s *Store) SetImportedFileHash(ctx context.Context, classroomID, path, hash string) error {
	return s.SetMetadata(ctx, importKey(classroomID, path), hash)
}
