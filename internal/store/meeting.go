package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const meetingColumns = `id, classroom_id, creator_id, description, status, call_type, call_id, meeting_time, created_at`

// CreateMeeting inserts a meeting. ID may be preset so it can double as the call ID.
func (s *Store) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, classroom_id, creator_id, description, status, call_type, call_id, meeting_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ClassroomID, m.CreatorID, m.Description, m.Status, m.CallType, m.CallID, m.MeetingTime.UTC(), m.CreatedAt,
	)
	return err
}

func scanMeeting(row interface{ Scan(...any) error }) (*model.Meeting, error) {
	var m model.Meeting
	if err := row.Scan(&m.ID, &m.ClassroomID, &m.CreatorID, &m.Description, &m.Status, &m.CallType,
		&m.CallID, &m.MeetingTime, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMeeting returns a meeting or a not-found error.
func (s *Store) GetMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	m, err := scanMeeting(s.db.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Meeting not found")
	}
	return m, err
}

func (s *Store) listMeetings(ctx context.Context, query string, args ...any) ([]model.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListMeetings returns a classroom's meetings by meeting time, latest first.
func (s *Store) ListMeetings(ctx context.Context, classroomID string) ([]model.Meeting, error) {
	return s.listMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE classroom_id = ? ORDER BY meeting_time DESC`, classroomID)
}

// ListUnprocessedMeetings returns completed meetings that have a call but no stored data yet.
func (s *Store) ListUnprocessedMeetings(ctx context.Context) ([]model.Meeting, error) {
	return s.listMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings m
		 WHERE m.status = ? AND m.call_id != ''
		   AND NOT EXISTS (SELECT 1 FROM meeting_data d WHERE d.meeting_id = m.id)
		 ORDER BY m.meeting_time`, model.MeetCompleted)
}

// UpdateMeetingStatus sets a meeting's status.
func (s *Store) UpdateMeetingStatus(ctx context.Context, id string, status model.MeetStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE meetings SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Meeting not found")
}

// SaveMeetingData stores the processed transcript and summary of one call session.
// Saving the same session twice keeps the first record.
func (s *Store) SaveMeetingData(ctx context.Context, d *model.MeetingData) error {
	d.ID = newID()
	if d.CompletedAt.IsZero() {
		d.CompletedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_data (id, meeting_id, session_id, transcript, summary, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(meeting_id, session_id) DO NOTHING`,
		d.ID, d.MeetingID, d.SessionID, d.Transcript, d.Summary, d.CompletedAt.UTC(),
	)
	return err
}

// ListMeetingData returns the processed sessions of a meeting.
func (s *Store) ListMeetingData(ctx context.Context, meetingID string) ([]model.MeetingData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, session_id, transcript, summary, completed_at
		 FROM meeting_data WHERE meeting_id = ? ORDER BY completed_at`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.MeetingData{}
	for rows.Next() {
		var d model.MeetingData
		if err := rows.Scan(&d.ID, &d.MeetingID, &d.SessionID, &d.Transcript, &d.Summary, &d.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
