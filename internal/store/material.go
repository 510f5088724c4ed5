package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const materialColumns = `id, classroom_id, title, kind, filename, mime_type, object_key, url, sha256, chunk_count, created_at`

// CreateMaterial records an ingested file. The same file cannot be added twice to one classroom.
func (s *Store) CreateMaterial(ctx context.Context, m *model.Material) error {
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO materials (id, classroom_id, title, kind, filename, mime_type, object_key, url, sha256, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ClassroomID, m.Title, m.Kind, m.Filename, m.MimeType, m.ObjectKey, m.URL, m.SHA256, m.ChunkCount, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apierr.Validation("This file was already uploaded to the class")
	}
	return err
}

func scanMaterial(row interface{ Scan(...any) error }) (*model.Material, error) {
	var m model.Material
	if err := row.Scan(&m.ID, &m.ClassroomID, &m.Title, &m.Kind, &m.Filename, &m.MimeType,
		&m.ObjectKey, &m.URL, &m.SHA256, &m.ChunkCount, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMaterial returns a material or a not-found error.
func (s *Store) GetMaterial(ctx context.Context, id string) (*model.Material, error) {
	m, err := scanMaterial(s.db.QueryRowContext(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Material not found")
	}
	return m, err
}

// MaterialExists reports whether a file with the given hash is already in the classroom.
func (s *Store) MaterialExists(ctx context.Context, classroomID, sha string) (bool, error) {
	return rowExists(ctx, s.db, `SELECT 1 FROM materials WHERE classroom_id = ? AND sha256 = ?`, classroomID, sha)
}

// ListMaterials returns a classroom's materials, newest first.
func (s *Store) ListMaterials(ctx context.Context, classroomID string) ([]model.Material, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+materialColumns+` FROM materials WHERE classroom_id = ? ORDER BY created_at DESC`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMaterial removes a material row.
func (s *Store) DeleteMaterial(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM materials WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Material not found")
}
