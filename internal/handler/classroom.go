package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lyceum/internal/apierr"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/model"
)

type classroomRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type classroomResponse struct {
	Detail    string           `json:"detail"`
	Classroom *model.Classroom `json:"classroom"`
}

type classroomDetail struct {
	*model.Classroom
	Students int `json:"students"`
}

func (h *Handler) handleCreateClassroom(w http.ResponseWriter, r *http.Request) {
	var req classroomRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c := &model.Classroom{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		TeacherID:   currentUser(r).ID,
	}
	if err := h.store.CreateClassroom(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, classroomResponse{
		Detail:    appI18n.T(r.Context(), "ClassroomCreated"),
		Classroom: c,
	})
}

func (h *Handler) handleListTeacherClassrooms(w http.ResponseWriter, r *http.Request) {
	classes, err := h.store.ListTeacherClassrooms(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (h *Handler) handleGetOwnedClassroom(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeClassroom(w, r, c)
}

func (h *Handler) handleGetClass(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeClassroom(w, r, c)
}

func (h *Handler) writeClassroom(w http.ResponseWriter, r *http.Request, c *model.Classroom) {
	n, err := h.store.CountEnrollments(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classroomDetail{Classroom: c, Students: n})
}

func (h *Handler) handleUpdateClassroom(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req classroomRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c.Name = strings.TrimSpace(req.Name)
	c.Description = strings.TrimSpace(req.Description)
	if err := h.store.UpdateClassroom(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classroomResponse{
		Detail:    appI18n.T(r.Context(), "ClassroomUpdated"),
		Classroom: c,
	})
}

// handleDeleteClassroom removes the classroom row first; vectors and stored
// files are cleaned up afterwards and failures there are only logged.
func (h *Handler) handleDeleteClassroom(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	materials, err := h.store.ListMaterials(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteClassroom(r.Context(), c.ID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.ingester.DeleteClassroom(r.Context(), c.ID); err != nil {
		slog.Error("failed to delete classroom vectors", "classroom_id", c.ID, "error", err)
	}
	if h.files != nil {
		for _, m := range materials {
			if err := h.files.Delete(r.Context(), m.ObjectKey); err != nil {
				slog.Error("failed to delete material object", "material_id", m.ID, "error", err)
			}
		}
	}
	slog.Info("deleted classroom", "classroom_id", c.ID, "materials", len(materials))
	writeDetail(w, r, http.StatusOK, "ClassroomDeleted")
}

type addStudentRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addStudentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	student, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, apierr.Persistence(err))
		return
	}
	if student == nil {
		writeError(w, r, apierr.NotFound("User not found"))
		return
	}
	if student.Role != model.UserRoleStudent {
		writeError(w, r, apierr.Validation("User is not a student"))
		return
	}
	if _, err := h.store.Enroll(r.Context(), c.ID, student.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusCreated, "StudentAdded")
}

func (h *Handler) handleRemoveStudent(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Unenroll(r.Context(), c.ID, chi.URLParam(r, "studentID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusOK, "StudentRemoved")
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetClassroomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.Enroll(r.Context(), c.ID, currentUser(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, classroomResponse{
		Detail:    appI18n.Td(r.Context(), "Enrolled", map[string]any{"Class": c.Name}),
		Classroom: c,
	})
}

func (h *Handler) handleListStudentClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.store.ListStudentClassrooms(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}
