package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fcm_tokens (
		user_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classrooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL UNIQUE,
		teacher_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (teacher_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (classroom_id, student_id),
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS materials (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		object_key TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE (classroom_id, sha256),
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS announcements (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		announcement_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (announcement_id) REFERENCES announcements(id) ON DELETE CASCADE,
		FOREIGN KEY (author_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		title TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL,
		answer INTEGER NOT NULL,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS quiz_attempts (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS attempt_answers (
		attempt_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		selected_option INTEGER NOT NULL,
		correct INTEGER NOT NULL,
		PRIMARY KEY (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES quiz_attempts(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		teacher_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		reference_answer TEXT NOT NULL,
		type TEXT NOT NULL,
		due_date DATETIME,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		score INTEGER,
		feedback TEXT,
		strengths TEXT,
		improvements TEXT,
		evaluated_at DATETIME,
		submitted_at DATETIME NOT NULL,
		UNIQUE (assignment_id, student_id),
		FOREIGN KEY (assignment_id) REFERENCES assignments(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		call_type TEXT NOT NULL DEFAULT 'default',
		call_id TEXT NOT NULL DEFAULT '',
		meeting_time DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (classroom_id) REFERENCES classrooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS meeting_data (
		id TEXT PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		transcript TEXT NOT NULL,
		summary TEXT NOT NULL,
		completed_at DATETIME NOT NULL,
		UNIQUE (meeting_id, session_id),
		FOREIGN KEY (meeting_id) REFERENCES meetings(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quizzes_classroom ON quizzes(classroom_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions(quiz_id, position);
	CREATE INDEX IF NOT EXISTS idx_attempts_quiz_student ON quiz_attempts(quiz_id, student_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.NewString()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// rowExists runs a SELECT 1 query and reports whether it returned a row.
func rowExists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
