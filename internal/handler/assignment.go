package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lyceum/internal/grading"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/model"
)

type assignmentRequest struct {
	Title           string               `json:"title" validate:"required,max=200"`
	Description     string               `json:"description"`
	Question        string               `json:"question" validate:"required"`
	ReferenceAnswer string               `json:"reference_answer" validate:"required"`
	Type            model.AssignmentType `json:"type" validate:"oneof=TEXT VOICE"`
	DueDate         *time.Time           `json:"due_date"`
}

type assignmentResponse struct {
	Detail     string            `json:"detail"`
	Assignment *model.Assignment `json:"assignment"`
}

type submissionResponse struct {
	Detail     string            `json:"detail"`
	Submission *model.Submission `json:"submission"`
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assignmentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a := &model.Assignment{
		ClassroomID:     c.ID,
		TeacherID:       currentUser(r).ID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Question:        req.Question,
		ReferenceAnswer: req.ReferenceAnswer,
		Type:            req.Type,
		DueDate:         req.DueDate,
	}
	if err := h.store.CreateAssignment(r.Context(), a); err != nil {
		writeError(w, r, err)
		return
	}
	h.notifier.NotifyClass(c.ID,
		appI18n.Td(r.Context(), "NotifyAssignment", map[string]any{"Class": c.Name}),
		a.Title, "/assignments")
	writeJSON(w, http.StatusCreated, assignmentResponse{
		Detail:     appI18n.T(r.Context(), "AssignmentCreated"),
		Assignment: a,
	})
}

// forViewer hides the reference answer from students.
func forViewer(a *model.Assignment, u *model.User) *model.Assignment {
	if u.Role == model.UserRoleTeacher {
		return a
	}
	out := *a
	out.ReferenceAnswer = ""
	return &out
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListAssignments(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := currentUser(r)
	for i := range list {
		list[i] = *forViewer(&list[i], user)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAssignment(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.member(r, a.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forViewer(a, currentUser(r)))
}

// ownedAssignment loads an assignment in a classroom the caller owns.
func (h *Handler) ownedAssignment(r *http.Request) (*model.Assignment, error) {
	a, err := h.store.GetAssignment(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		return nil, err
	}
	if _, err := h.owned(r, a.ClassroomID); err != nil {
		return nil, err
	}
	return a, nil
}

func (h *Handler) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownedAssignment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteAssignment(r.Context(), a.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusOK, "AssignmentDeleted")
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownedAssignment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subs, err := h.store.ListSubmissions(r.Context(), a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type textSubmission struct {
	Content string `json:"content"`
}

func (h *Handler) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req textSubmission
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.grader.SubmitText(r.Context(), chi.URLParam(r, "assignmentID"), currentUser(r).ID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submissionResponse{
		Detail:     appI18n.T(r.Context(), "SubmissionEvaluated"),
		Submission: sub,
	})
}

func (h *Handler) handleSubmitVoice(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.grader.SubmitVoice(r.Context(), chi.URLParam(r, "assignmentID"), currentUser(r).ID, grading.Audio{
		Data:     up.Data,
		Filename: up.Filename,
		MimeType: up.MimeType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submissionResponse{
		Detail:     appI18n.T(r.Context(), "SubmissionEvaluated"),
		Submission: sub,
	})
}
