package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/lyceum/internal/apierr"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/model"
)

type announcementRequest struct {
	ClassID string `json:"class_id" validate:"required"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required"`
}

type announcementUpdate struct {
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required"`
}

type announcementResponse struct {
	Detail       string              `json:"detail"`
	Announcement *model.Announcement `json:"announcement"`
}

func (h *Handler) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcementRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.owned(r, req.ClassID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a := &model.Announcement{
		ClassroomID: c.ID,
		AuthorID:    currentUser(r).ID,
		Title:       strings.TrimSpace(req.Title),
		Message:     req.Message,
	}
	if err := h.store.CreateAnnouncement(r.Context(), a); err != nil {
		writeError(w, r, err)
		return
	}
	h.notifier.NotifyClass(c.ID,
		appI18n.Td(r.Context(), "NotifyAnnouncement", map[string]any{"Class": c.Name}),
		a.Title, "/announcements")
	writeJSON(w, http.StatusCreated, announcementResponse{
		Detail:       appI18n.T(r.Context(), "AnnouncementCreated"),
		Announcement: a,
	})
}

func (h *Handler) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListAnnouncements(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ownedAnnouncement loads an announcement in a classroom the caller owns.
func (h *Handler) ownedAnnouncement(r *http.Request) (*model.Announcement, error) {
	a, err := h.store.GetAnnouncement(r.Context(), chi.URLParam(r, "announcementID"))
	if err != nil {
		return nil, err
	}
	if _, err := h.owned(r, a.ClassroomID); err != nil {
		return nil, err
	}
	return a, nil
}

func (h *Handler) handleUpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownedAnnouncement(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req announcementUpdate
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a.Title = strings.TrimSpace(req.Title)
	a.Message = req.Message
	if err := h.store.UpdateAnnouncement(r.Context(), a); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, announcementResponse{
		Detail:       appI18n.T(r.Context(), "AnnouncementUpdated"),
		Announcement: a,
	})
}

func (h *Handler) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownedAnnouncement(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.DeleteAnnouncement(r.Context(), a.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusOK, "AnnouncementDeleted")
}

type commentRequest struct {
	AnnouncementID string `json:"announcement_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=5000"`
}

type commentResponse struct {
	Detail  string         `json:"detail"`
	Comment *model.Comment `json:"comment"`
}

// memberAnnouncement loads an announcement in a classroom the caller belongs to.
func (h *Handler) memberAnnouncement(r *http.Request, id string) (*model.Announcement, error) {
	a, err := h.store.GetAnnouncement(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := h.member(r, a.ClassroomID); err != nil {
		return nil, err
	}
	return a, nil
}

func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.memberAnnouncement(r, req.AnnouncementID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := currentUser(r)
	c := &model.Comment{
		AnnouncementID: a.ID,
		AuthorID:       user.ID,
		AuthorName:     user.Name,
		Content:        strings.TrimSpace(req.Content),
	}
	if err := h.store.CreateComment(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentResponse{
		Detail:  appI18n.T(r.Context(), "CommentCreated"),
		Comment: c,
	})
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	a, err := h.memberAnnouncement(r, chi.URLParam(r, "announcementID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListComments(r.Context(), a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetComment(r.Context(), chi.URLParam(r, "commentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c.AuthorID != currentUser(r).ID {
		writeError(w, r, apierr.Forbidden("You can only delete your own comments"))
		return
	}
	if err := h.store.DeleteComment(r.Context(), c.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeDetail(w, r, http.StatusOK, "CommentDeleted")
}
