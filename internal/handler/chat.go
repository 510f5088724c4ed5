package handler

import (
	"net/http"
	"strings"

	"github.com/pavelanni/lyceum/internal/chatbot"
	"github.com/pavelanni/lyceum/internal/llm"
	"github.com/pavelanni/lyceum/internal/llm/prompts"
)

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatbot.Request
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.member(r, req.ClassroomID); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.bot.Ask(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type mermaidRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

type mermaidResponse struct {
	MermaidCode *string `json:"mermaid_code"`
	Description string  `json:"description"`
}

func (h *Handler) handleMermaid(w http.ResponseWriter, r *http.Request) {
	var req mermaidRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	prompt, err := prompts.Compose(prompts.Mermaid, map[string]any{
		"query": strings.TrimSpace(req.Query),
	}, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var out llm.MermaidResult
	if err := h.llm.Generate(r.Context(), prompt, &out); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mermaidResponse{MermaidCode: out.MermaidCode, Description: out.Description})
}
