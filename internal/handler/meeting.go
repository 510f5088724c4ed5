package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/lyceum/internal/apierr"
	appI18n "github.com/pavelanni/lyceum/internal/i18n"
	"github.com/pavelanni/lyceum/internal/meeting"
	"github.com/pavelanni/lyceum/internal/model"
)

var errNoCalls = errors.New("video calls are not configured")

type meetingRequest struct {
	ClassID     string    `json:"class_id" validate:"required"`
	Description string    `json:"description" validate:"max=2000"`
	MeetingTime time.Time `json:"meeting_time" validate:"required"`
}

type meetingResponse struct {
	Detail  string         `json:"detail"`
	Meeting *model.Meeting `json:"meeting"`
}

func (h *Handler) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	if h.calls == nil {
		writeError(w, r, apierr.Upstream("video", errNoCalls))
		return
	}
	var req meetingRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.owned(r, req.ClassID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := currentUser(r)
	id := uuid.NewString()
	info, err := h.calls.CreateCall(r.Context(), user.ID, meeting.Call{
		ID:          id,
		ClassroomID: c.ID,
		Description: strings.TrimSpace(req.Description),
		StartsAt:    req.MeetingTime,
	})
	if err != nil {
		writeError(w, r, apierr.Upstream("video", err))
		return
	}
	callID := info.ID
	if callID == "" {
		callID = id
	}
	m := &model.Meeting{
		ID:          id,
		ClassroomID: c.ID,
		CreatorID:   user.ID,
		Description: strings.TrimSpace(req.Description),
		Status:      model.MeetScheduled,
		CallType:    meeting.CallType,
		CallID:      callID,
		MeetingTime: req.MeetingTime,
	}
	if err := h.store.CreateMeeting(r.Context(), m); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("meeting scheduled", "meeting_id", m.ID, "classroom_id", c.ID, "call_id", m.CallID)
	h.notifier.NotifyClass(c.ID,
		appI18n.Td(r.Context(), "NotifyMeeting", map[string]any{"Class": c.Name}),
		m.MeetingTime.UTC().Format(time.RFC1123), "/meetings")
	writeJSON(w, http.StatusCreated, meetingResponse{
		Detail:  appI18n.T(r.Context(), "MeetingCreated"),
		Meeting: m,
	})
}

func (h *Handler) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	c, err := h.member(r, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListMeetings(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type meetingTokenResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	CallType string `json:"call_type"`
	CallID   string `json:"call_id"`
}

func (h *Handler) handleMeetingToken(w http.ResponseWriter, r *http.Request) {
	if h.calls == nil {
		writeError(w, r, apierr.Upstream("video", errNoCalls))
		return
	}
	m, err := h.store.GetMeeting(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.member(r, m.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	user := currentUser(r)
	token, err := h.calls.UserToken(user.ID)
	if err != nil {
		writeError(w, r, apierr.Upstream("video", err))
		return
	}
	writeJSON(w, http.StatusOK, meetingTokenResponse{
		Token:    token,
		UserID:   user.ID,
		CallType: m.CallType,
		CallID:   m.CallID,
	})
}

type meetingStatusRequest struct {
	Status model.MeetStatus `json:"status" validate:"required"`
}

func (h *Handler) handleMeetingStatus(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMeeting(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.owned(r, m.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	var req meetingStatusRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, apierr.Validation("status: unknown value %q", req.Status))
		return
	}
	if err := h.store.UpdateMeetingStatus(r.Context(), m.ID, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	m.Status = req.Status
	writeJSON(w, http.StatusOK, meetingResponse{
		Detail:  appI18n.T(r.Context(), "MeetingStatusUpdated"),
		Meeting: m,
	})
}
