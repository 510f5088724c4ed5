package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "STUDENT"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "TEACHER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == UserRoleStudent || r == UserRoleTeacher
}

// User represents a system user.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Classroom is owned by a teacher and joined by students through its code.
type Classroom struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	TeacherID   string    `json:"teacher_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Enrollment links a student to a classroom.
type Enrollment struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"classroom_id"`
	StudentID   string    `json:"student_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Collection names a vector-store namespace.
type Collection string

const (
	CollectionSyllabus  Collection = "syllabus"
	CollectionMaterials Collection = "materials"
)

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return c == CollectionSyllabus || c == CollectionMaterials
}

// Material is an uploaded file indexed into a collection.
type Material struct {
	ID          string     `json:"id"`
	ClassroomID string     `json:"classroom_id"`
	Title       string     `json:"title"`
	Kind        Collection `json:"kind"`
	Filename    string     `json:"filename"`
	MimeType    string     `json:"mime_type"`
	ObjectKey   string     `json:"-"`
	URL         string     `json:"url"`
	SHA256      string     `json:"sha256"`
	ChunkCount  int        `json:"chunk_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Chunk is a bounded span of indexed source text.
type Chunk struct {
	Text        string `json:"text"`
	SourceID    string `json:"source_id"`
	ClassroomID string `json:"classroom_id"`
	MaterialID  string `json:"material_id,omitempty"`
	Page        int    `json:"page,omitempty"`
}

// Announcement is a classroom post.
type Announcement struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"classroom_id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Comment is a reply to an announcement.
type Comment struct {
	ID             string    `json:"id"`
	AnnouncementID string    `json:"announcement_id"`
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Difficulty represents a quiz difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Quiz owns an ordered sequence of questions.
type Quiz struct {
	ID          string     `json:"id"`
	ClassroomID string     `json:"classroom_id"`
	CreatorID   string     `json:"creator_id"`
	Title       string     `json:"title"`
	Topic       string     `json:"topic"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
	Published   bool       `json:"published"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `json:"questions,omitempty"`
}

// Question is a multiple-choice question; Answer is the 0-based index of the correct option.
type Question struct {
	ID       string   `json:"id"`
	QuizID   string   `json:"quiz_id"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

// AttemptStatus tracks a quiz attempt through its lifecycle.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
)

// QuizAttempt is one student's run through a quiz.
type QuizAttempt struct {
	ID          string          `json:"id"`
	QuizID      string          `json:"quiz_id"`
	StudentID   string          `json:"student_id"`
	Status      AttemptStatus   `json:"status"`
	Score       *int            `json:"score,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Answers     []AttemptAnswer `json:"answers,omitempty"`
}

// AttemptAnswer is a submitted choice for one question.
type AttemptAnswer struct {
	QuestionID     string `json:"questionId" validate:"required"`
	SelectedOption int    `json:"selectedOption" validate:"min=0"`
	Correct        bool   `json:"correct"`
}

// AssignmentType is the kind of submission an assignment accepts.
type AssignmentType string

const (
	AssignmentText  AssignmentType = "TEXT"
	AssignmentVoice AssignmentType = "VOICE"
)

// Assignment is an open-ended question graded against a reference answer.
type Assignment struct {
	ID              string         `json:"id"`
	ClassroomID     string         `json:"classroom_id"`
	TeacherID       string         `json:"teacher_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Question        string         `json:"question"`
	ReferenceAnswer string         `json:"reference_answer"`
	Type            AssignmentType `json:"type"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Evaluation is the grading result attached to a submission.
type Evaluation struct {
	Score        int       `json:"score"`
	Feedback     string    `json:"feedback"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"areas_for_improvement"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Submission is a student's answer to an assignment.
type Submission struct {
	ID           string         `json:"id"`
	AssignmentID string         `json:"assignment_id"`
	StudentID    string         `json:"student_id"`
	Type         AssignmentType `json:"type"`
	Content      string         `json:"content,omitempty"`
	AudioURL     string         `json:"audio_url,omitempty"`
	Transcript   string         `json:"transcript,omitempty"`
	Evaluation   *Evaluation    `json:"evaluation,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
}

// MeetStatus is the lifecycle state of a meeting.
type MeetStatus string

const (
	MeetScheduled MeetStatus = "SCHEDULED"
	MeetOngoing   MeetStatus = "ONGOING"
	MeetCanceled  MeetStatus = "CANCELED"
	MeetCompleted MeetStatus = "COMPLETED"
)

// Valid reports whether s is a known meeting status.
func (s MeetStatus) Valid() bool {
	switch s {
	case MeetScheduled, MeetOngoing, MeetCanceled, MeetCompleted:
		return true
	}
	return false
}

// Meeting is a scheduled video call for a classroom.
type Meeting struct {
	ID          string     `json:"id"`
	ClassroomID string     `json:"classroom_id"`
	CreatorID   string     `json:"creator_id"`
	Description string     `json:"description"`
	Status      MeetStatus `json:"status"`
	CallType    string     `json:"call_type"`
	CallID      string     `json:"call_id"`
	MeetingTime time.Time  `json:"meeting_time"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MeetingData is the processed recording of one call session.
type MeetingData struct {
	ID          string    `json:"id"`
	MeetingID   string    `json:"meeting_id"`
	SessionID   string    `json:"session_id"`
	Transcript  string    `json:"transcript"`
	Summary     string    `json:"summary"`
	CompletedAt time.Time `json:"completed_at"`
}

// ChatRole tags a conversation turn.
type ChatRole string

const (
	ChatUser      ChatRole = "user"
	ChatAssistant ChatRole = "assistant"
)

// ChatMessage is one prior turn of a chatbot conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role" validate:"oneof=user assistant"`
	Content string   `json:"content"`
}
