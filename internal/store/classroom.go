package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/model"
)

const (
	classCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	classCodeLength   = 9
	classCodeAttempts = 5
)

const classroomColumns = `id, name, description, code, teacher_id, created_at, updated_at`

func generateClassCode() (string, error) {
	b := make([]byte, classCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = classCodeAlphabet[int(b[i])%len(classCodeAlphabet)]
	}
	return string(b), nil
}

// CreateClassroom inserts a classroom with a fresh unique join code.
func (s *Store) CreateClassroom(ctx context.Context, c *model.Classroom) error {
	c.ID = newID()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	for range classCodeAttempts {
		code, err := generateClassCode()
		if err != nil {
			return fmt.Errorf("generate class code: %w", err)
		}
		c.Code = code
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO classrooms (id, name, description, code, teacher_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, c.Code, c.TeacherID, c.CreatedAt, c.UpdatedAt,
		)
		if isUniqueViolation(err) {
			slog.Debug("class code collision, retrying", "code", code)
			continue
		}
		if err != nil {
			return err
		}
		slog.Info("created classroom", "id", c.ID, "teacher_id", c.TeacherID)
		return nil
	}
	return fmt.Errorf("could not allocate a unique class code after %d attempts", classCodeAttempts)
}

func scanClassroom(row interface{ Scan(...any) error }) (*model.Classroom, error) {
	var c model.Classroom
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Code, &c.TeacherID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClassroom returns a classroom or a not-found error.
func (s *Store) GetClassroom(ctx context.Context, id string) (*model.Classroom, error) {
	c, err := scanClassroom(s.db.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Classroom not found")
	}
	return c, err
}

// GetClassroomByCode returns a classroom by its join code or a not-found error.
func (s *Store) GetClassroomByCode(ctx context.Context, code string) (*model.Classroom, error) {
	c, err := scanClassroom(s.db.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Class not found")
	}
	return c, err
}

func (s *Store) listClassrooms(ctx context.Context, query string, args ...any) ([]model.Classroom, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Classroom{}
	for rows.Next() {
		c, err := scanClassroom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListTeacherClassrooms returns classrooms owned by a teacher, newest first.
func (s *Store) ListTeacherClassrooms(ctx context.Context, teacherID string) ([]model.Classroom, error) {
	return s.listClassrooms(ctx,
		`SELECT `+classroomColumns+` FROM classrooms WHERE teacher_id = ? ORDER BY created_at DESC`, teacherID)
}

// ListStudentClassrooms returns classrooms a student is enrolled in.
func (s *Store) ListStudentClassrooms(ctx context.Context, studentID string) ([]model.Classroom, error) {
	return s.listClassrooms(ctx,
		`SELECT c.id, c.name, c.description, c.code, c.teacher_id, c.created_at, c.updated_at
		 FROM classrooms c JOIN enrollments e ON e.classroom_id = c.id
		 WHERE e.student_id = ? ORDER BY e.created_at DESC`, studentID)
}

// UpdateClassroom changes name and description.
func (s *Store) UpdateClassroom(ctx context.Context, c *model.Classroom) error {
	c.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE classrooms SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Description, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Classroom not found")
}

// DeleteClassroom removes a classroom; owned rows cascade.
func (s *Store) DeleteClassroom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM classrooms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Classroom not found")
}

// OwnedClassroom returns the classroom if teacherID owns it.
func (s *Store) OwnedClassroom(ctx context.Context, classroomID, teacherID string) (*model.Classroom, error) {
	c, err := s.GetClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if c.TeacherID != teacherID {
		return nil, apierr.Forbidden("You do not own this classroom")
	}
	return c, nil
}

// MemberClassroom returns the classroom if u owns it or is enrolled in it.
func (s *Store) MemberClassroom(ctx context.Context, classroomID string, u *model.User) (*model.Classroom, error) {
	c, err := s.GetClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if u.Role == model.UserRoleTeacher {
		if c.TeacherID != u.ID {
			return nil, apierr.Forbidden("You do not own this classroom")
		}
		return c, nil
	}
	ok, err := s.IsEnrolled(ctx, classroomID, u.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Forbidden("You are not enrolled in this class")
	}
	return c, nil
}

// Enroll adds a student to a classroom. A second enrollment is a validation error.
func (s *Store) Enroll(ctx context.Context, classroomID, studentID string) (*model.Enrollment, error) {
	e := &model.Enrollment{
		ID:          newID(),
		ClassroomID: classroomID,
		StudentID:   studentID,
		CreatedAt:   s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, classroom_id, student_id, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.ClassroomID, e.StudentID, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, apierr.Validation("Already enrolled in this class")
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Unenroll removes a student from a classroom.
func (s *Store) Unenroll(ctx context.Context, classroomID, studentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrollments WHERE classroom_id = ? AND student_id = ?`, classroomID, studentID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "Student is not enrolled in this class")
}

// IsEnrolled reports whether a student is enrolled in a classroom.
func (s *Store) IsEnrolled(ctx context.Context, classroomID, studentID string) (bool, error) {
	return rowExists(ctx, s.db,
		`SELECT 1 FROM enrollments WHERE classroom_id = ? AND student_id = ?`, classroomID, studentID)
}

// CountEnrollments returns the number of students enrolled in a classroom.
func (s *Store) CountEnrollments(ctx context.Context, classroomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollments WHERE classroom_id = ?`, classroomID).Scan(&n)
	return n, err
}

func expectOneRow(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("%s", notFound)
	}
	return nil
}
