package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lyceum/internal/apierr"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/quiz"
)

type quizResponse struct {
	Detail string      `json:"detail"`
	Quiz   *model.Quiz `json:"quiz"`
}

// studentQuestion is a question as students see it, without the answer.
// quizEnvelope wraps a single quiz as {"quiz": ...}.
type quizEnvelope[T any] struct {
	Quiz T `json:"quiz"`
}

type quizListResponse struct {
	Quizzes []model.Quiz `json:"quizzes"`
}

type studentQuestion struct {
	ID       string   `json:"id"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
}

type studentQuiz struct {
	ID          string            `json:"id"`
	ClassroomID string            `json:"classroom_id"`
	Title       string            `json:"title"`
	Topic       string            `json:"topic"`
	Description string            `json:"description"`
	Difficulty  model.Difficulty  `json:"difficulty"`
	Questions   []studentQuestion `json:"questions"`
}

func hideAnswers(q *model.Quiz) studentQuiz {
	out := studentQuiz{
		ID:          q.ID,
		ClassroomID: q.ClassroomID,
		Title:       q.Title,
		Topic:       q.Topic,
		Description: q.Description,
		Difficulty:  q.Difficulty,
		Questions:   make([]studentQuestion, len(q.Questions)),
	}
	for i, qq := range q.Questions {
		out.Questions[i] = studentQuestion{ID: qq.ID, Position: qq.Position, Text: qq.Text, Options: qq.Options}
	}
	return out
}

func (h *Handler) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req quiz.Request
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.quizzes.Generate(r.Context(), req, currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quizResponse{
		Detail: appI18n.T(r.Context(), "QuizGenerated"),
		Quiz:   q,
	})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListQuizzes(r.Context(), c.ID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeQuizzes(w, list)
}

func (h *Handler) handleListClassQuizzes(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	publishedOnly := currentUser(r).Role == model.UserRoleStudent
	list, err := h.store.ListQuizzes(r.Context(), c.ID, publishedOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeQuizzes(w, list)
}

func writeQuizzes(w http.ResponseWriter, list []model.Quiz) {
	if list == nil {
		list = []model.Quiz{}
	}
	writeJSON(w, http.StatusOK, quizListResponse{Quizzes: list})
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.member(r, q.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	if currentUser(r).Role == model.UserRoleTeacher {
		writeJSON(w, http.StatusOK, quizEnvelope[*model.Quiz]{Quiz: q})
		return
	}
	if !q.Published {
		writeError(w, r, apierr.NotFound("Quiz not found"))
		return
	}
	writeJSON(w, http.StatusOK, quizEnvelope[studentQuiz]{Quiz: hideAnswers(q)})
}

// ownedQuiz loads a quiz in a classroom the caller owns.
func (h *Handler) ownedQuiz(r *http.Request, id string) (*model.Quiz, *model.Classroom, error) {
	q, err := h.store.GetQuiz(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	c, err := h.owned(r, q.ClassroomID)
	if err != nil {
		return nil, nil, err
	}
	return q, c, nil
}

// handlePublishQuiz is idempotent; only the call that flips the flag
// notifies the class.
func (h *Handler) handlePublishQuiz(w http.ResponseWriter, r *http.Request) {
	q, c, err := h.ownedQuiz(r, chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	changed, err := h.store.PublishQuiz(r.Context(), q.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if changed {
		h.notifier.NotifyClass(c.ID,
			appI18n.Td(r.Context(), "NotifyQuiz", map[string]any{"Class": c.Name}),
			appI18n.Tp(r.Context(), "QuizQuestions", len(q.Questions), map[string]any{"Title": q.Title}),
			"/quizzes")
	}
	q.Published = true
	writeJSON(w, http.StatusOK, quizResponse{
		Detail: appI18n.T(r.Context(), "QuizPublished"),
		Quiz:   q,
	})
}

type questionUpdate struct {
	Text    string   `json:"text" validate:"required"`
	Options []string `json:"options" validate:"min=2,dive,required"`
	Answer  int      `json:"answer" validate:"min=0"`
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.store.GetQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, _, err := h.ownedQuiz(r, question.QuizID); err != nil {
		writeError(w, r, err)
		return
	}
	var req questionUpdate
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	question.Text = strings.TrimSpace(req.Text)
	question.Options = req.Options
	question.Answer = req.Answer
	if err := h.store.UpdateQuestion(r.Context(), question); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detail":   appI18n.T(r.Context(), "QuestionUpdated"),
		"question": question,
	})
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	q, _, err := h.ownedQuiz(r, chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteQuiz(r.Context(), q.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusOK, "QuizDeleted")
}

type attemptResponse struct {
	Attempt *model.QuizAttempt `json:"attempt"`
	Quiz    studentQuiz        `json:"quiz"`
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.StartAttempt(r.Context(), chi.URLParam(r, "quizID"), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.store.GetQuiz(r.Context(), a.QuizID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, attemptResponse{Attempt: a, Quiz: hideAnswers(q)})
}

type scoreResponse struct {
	Message string `json:"message"`
	Score   int    `json:"score"`
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var answers []model.AttemptAnswer
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&answers); err != nil {
		writeError(w, r, apierr.Validation("invalid JSON body: %v", err))
		return
	}
	for i := range answers {
		if err := h.validateStruct(&answers[i]); err != nil {
			writeError(w, r, err)
			return
		}
	}
	a, err := h.store.SubmitAttempt(r.Context(), chi.URLParam(r, "attemptID"), currentUser(r).ID, answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	score := 0
	if a.Score != nil {
		score = *a.Score
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		Message: appI18n.T(r.Context(), "QuizSubmitted"),
		Score:   score,
	})
}
