package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const announcementColumns = `id, classroom_id, author_id, title, message, created_at, updated_at`

// CreateAnnouncement inserts a classroom announcement.
func (s *Store) CreateAnnouncement(ctx context.Context, a *model.Announcement) error {
	a.ID = newID()
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements (id, classroom_id, author_id, title, message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClassroomID, a.AuthorID, a.Title, a.Message, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func scanAnnouncement(row interface{ Scan(...any) error }) (*model.Announcement, error) {
	var a model.Announcement
	if err := row.Scan(&a.ID, &a.ClassroomID, &a.AuthorID, &a.Title, &a.Message, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAnnouncement returns an announcement or a not-found error.
func (s *Store) GetAnnouncement(ctx context.Context, id string) (*model.Announcement, error) {
	a, err := scanAnnouncement(s.db.QueryRowContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Announcement not found")
	}
	return a, err
}

// ListAnnouncements returns a classroom's announcements, newest first.
func (s *Store) ListAnnouncements(ctx context.Context, classroomID string) ([]model.Announcement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE classroom_id = ? ORDER BY created_at DESC`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Announcement{}
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAnnouncement changes title and message.
func (s *Store) UpdateAnnouncement(ctx context.Context, a *model.Announcement) error {
	a.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE announcements SET title = ?, message = ?, updated_at = ? WHERE id = ?`,
		a.Title, a.Message, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Announcement not found")
}

// DeleteAnnouncement removes an announcement and its comments.
func (s *Store) DeleteAnnouncement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Announcement not found")
}

// CreateComment inserts a comment on an announcement.
func (s *Store) CreateComment(ctx context.Context, c *model.Comment) error {
	c.ID = newID()
	c.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, announcement_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AnnouncementID, c.AuthorID, c.Content, c.CreatedAt)
	return err
}

// GetComment returns a comment or a not-found error.
func (s *Store) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	var c model.Comment
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.announcement_id, c.author_id, u.name, c.content, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.AnnouncementID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Comment not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns an announcement's comments in posting order.
func (s *Store) ListComments(ctx context.Context, announcementID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.announcement_id, c.author_id, u.name, c.content, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id
		 WHERE c.announcement_id = ? ORDER BY c.created_at`, announcementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.AnnouncementID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Comment not found")
}
