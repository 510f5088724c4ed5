// Package handler implements the JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/auth"
	"github.com/pavelanni/lyceum/internal/chatbot"
	"github.com/pavelanni/lyceum/internal/grading"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/meeting"
	"github.com/pavelanni/lyceum/internal/model"
	"github.com/pavelanni/lyceum/internal/notify"
	"github.com/pavelanni/lyceum/internal/quiz"
	"github.com/pavelanni/lyceum/internal/rag"
	"github.com/pavelanni/lyceum/internal/store"
)

const defaultMaxUpload = 25 << 20

// ObjectStore keeps uploaded files.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// CallProvider creates video calls and member tokens.
type CallProvider interface {
	CreateCall(ctx context.Context, creatorID string, c meeting.Call) (*meeting.CallInfo, error)
	UserToken(userID string) (string, error)
}

// Generator produces a structured result from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, out llm.Schema) error
}

// Deps are the services the handlers call. Files and Calls are optional;
// the routes that need them answer with an upstream error when unset.
type Deps struct {
	Store    *store.Store
	Tokens   *auth.Tokens
	Quizzes  *quiz.Service
	Grader   *grading.Service
	Bot      *chatbot.Bot
	Ingester *rag.Ingester
	LLM      Generator
	Notifier *notify.Notifier
	Files    ObjectStore
	Calls    CallProvider
}

// Config tunes request handling.
type Config struct {
	MaxUploadBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	tokens   *auth.Tokens
	quizzes  *quiz.Service
	grader   *grading.Service
	bot      *chatbot.Bot
	ingester *rag.Ingester
	llm      Generator
	notifier *notify.Notifier
	files    ObjectStore
	calls    CallProvider
	validate *validator.Validate
	config   Config
}

// New creates a new Handler.
func New(d Deps, cfg Config) (*Handler, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("handler: store is required")
	case d.Tokens == nil:
		return nil, errors.New("handler: token issuer is required")
	case d.Quizzes == nil || d.Grader == nil || d.Bot == nil || d.Ingester == nil || d.LLM == nil:
		return nil, errors.New("handler: quiz, grading, chatbot, ingestion and LLM services are required")
	case d.Notifier == nil:
		return nil, errors.New("handler: notifier is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	return &Handler{
		store:    d.Store,
		tokens:   d.Tokens,
		quizzes:  d.Quizzes,
		grader:   d.Grader,
		bot:      d.Bot,
		ingester: d.Ingester,
		llm:      d.LLM,
		notifier: d.Notifier,
		files:    d.Files,
		calls:    d.Calls,
		validate: newValidator(),
		config:   cfg,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleHealth)
	r.Post("/auth/signup", h.handleSignup)
	r.Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/auth/me", h.handleMe)
		r.Post("/auth/logout", h.handleLogout)
		r.Post("/fcm/add-token", h.handleAddFCMToken)
		r.Post("/mermaid/generate", h.handleMermaid)
		r.Post("/chat/query", h.handleChat)

		// Members: the owning teacher or an enrolled student.
		r.Get("/class/{classID}", h.handleGetClass)
		r.Get("/class/materials/{classID}", h.handleListMaterials)
		r.Get("/class/quizzes/{classID}", h.handleListClassQuizzes)
		r.Get("/class/announcements/{classID}", h.handleListAnnouncements)
		r.Post("/class/comment", h.handleCreateComment)
		r.Get("/class/comments/{announcementID}", h.handleListComments)
		r.Delete("/class/comment/{commentID}", h.handleDeleteComment)
		r.Get("/assignment/all/{classID}", h.handleListAssignments)
		r.Get("/assignment/{assignmentID}", h.handleGetAssignment)
		r.Get("/quiz/{quizID}", h.handleGetQuiz)
		r.Get("/meeting/class/{classID}", h.handleListMeetings)
		r.Get("/meeting/{meetingID}/token", h.handleMeetingToken)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher))

			r.Post("/admin/classroom", h.handleCreateClassroom)
			r.Get("/admin/classrooms", h.handleListTeacherClassrooms)
			r.Get("/admin/classroom/{classID}", h.handleGetOwnedClassroom)
			r.Patch("/admin/classroom/{classID}", h.handleUpdateClassroom)
			r.Delete("/admin/classroom/{classID}", h.handleDeleteClassroom)
			r.Post("/admin/classroom/{classID}/students", h.handleAddStudent)
			r.Delete("/admin/classroom/{classID}/students/{studentID}", h.handleRemoveStudent)

			r.Post("/class/materials", h.handleUploadMaterial)
			r.Delete("/class/material/{materialID}", h.handleDeleteMaterial)
			r.Post("/class/announcement", h.handleCreateAnnouncement)
			r.Put("/class/announcement/{announcementID}", h.handleUpdateAnnouncement)
			r.Delete("/class/announcement/{announcementID}", h.handleDeleteAnnouncement)

			r.Post("/assignment/create/{classID}", h.handleCreateAssignment)
			r.Delete("/assignment/{assignmentID}", h.handleDeleteAssignment)
			r.Get("/assignment/{assignmentID}/submissions", h.handleListSubmissions)

			r.Post("/quiz/generate", h.handleGenerateQuiz)
			r.Get("/quiz/all/{classID}", h.handleListQuizzes)
			r.Patch("/quiz/publish/{quizID}", h.handlePublishQuiz)
			r.Patch("/quiz/question/{questionID}", h.handleUpdateQuestion)
			r.Delete("/quiz/{quizID}", h.handleDeleteQuiz)

			r.Post("/meeting/create", h.handleCreateMeeting)
			r.Patch("/meeting/{meetingID}/status", h.handleMeetingStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))

			r.Post("/class/enroll/{code}", h.handleEnroll)
			r.Get("/class/all", h.handleListStudentClasses)
			r.Post("/assignment/{assignmentID}/submit/text", h.handleSubmitText)
			r.Post("/assignment/{assignmentID}/submit/voice", h.handleSubmitVoice)
			r.Post("/quiz/attempt/{quizID}", h.handleStartAttempt)
			r.Post("/quiz/submit/{attemptID}", h.handleSubmitAttempt)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeDetail(w, r, http.StatusOK, "Health")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeDetail answers with a localized {"detail": ...} message.
func writeDetail(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]string{"detail": appI18n.T(r.Context(), msgID)})
}

// writeError maps err to its status code and a {"detail": ...} body. Causes
// of server errors are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.Status(err)
	detail := http.StatusText(status)
	if e, ok := apierr.As(err); ok {
		detail = e.Detail()
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apierr.Validation("invalid JSON body: %v", err)
	}
	return h.validateStruct(dst)
}

func (h *Handler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
		return apierr.Validation("%s", strings.Join(msgs, "; "))
	}
	return apierr.Validation("%v", err)
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// currentUser returns the authenticated user set by requireAuth.
func currentUser(r *http.Request) *model.User {
	return model.UserFromContext(r.Context())
}

// member loads a classroom the caller owns or is enrolled in.
func (h *Handler) member(r *http.Request, classID string) (*model.Classroom, error) {
	return h.store.MemberClassroom(r.Context(), classID, currentUser(r))
}

// owned loads a classroom the calling teacher owns.
func (h *Handler) owned(r *http.Request, classID string) (*model.Classroom, error) {
	return h.store.OwnedClassroom(r.Context(), classID, currentUser(r).ID)
}
