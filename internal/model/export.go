package model

import "time"

// ClassroomExport is the top-level JSON structure for classroom result export.
type ClassroomExport struct {
	ClassroomID string             `json:"classroom_id"`
	Name        string             `json:"name"`
	Code        string             `json:"code"`
	ExportedAt  time.Time          `json:"exported_at"`
	Quizzes     []QuizResult       `json:"quizzes"`
	Assignments []AssignmentResult `json:"assignments"`
}

// QuizResult holds completed attempts of one quiz.
type QuizResult struct {
	QuizID       string          `json:"quiz_id"`
	Title        string          `json:"title"`
	Difficulty   Difficulty      `json:"difficulty"`
	Published    bool            `json:"published"`
	NumQuestions int             `json:"num_questions"`
	Attempts     []AttemptResult `json:"attempts"`
}

// AttemptResult is one student's scored attempt.
type AttemptResult struct {
	StudentName string     `json:"student_name"`
	Email       string     `json:"email"`
	Score       int        `json:"score"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AssignmentResult holds the evaluated submissions of one assignment.
type AssignmentResult struct {
	AssignmentID string             `json:"assignment_id"`
	Title        string             `json:"title"`
	Type         AssignmentType     `json:"type"`
	Submissions  []SubmissionResult `json:"submissions"`
}

// SubmissionResult is one student's evaluated submission.
type SubmissionResult struct {
	StudentName string    `json:"student_name"`
	Email       string    `json:"email"`
	Score       *int      `json:"score,omitempty"`
	Feedback    string    `json:"feedback,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
