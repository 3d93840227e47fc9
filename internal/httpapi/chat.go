package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/pkg/models"
)

// chatStreamRequest is the body of POST /api/chat/stream.
type chatStreamRequest struct {
	Model     string            `json:"model,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`
	Messages  []*models.Message `json:"messages"`
}

// handleChatStream runs one orchestrator turn and relays its events to the
// client as Server-Sent Events.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeErrorMsg(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	events, err := h.cfg.Orchestrator.ProcessStream(r.Context(), req.SessionID, req.Timezone, req.Model, req.Messages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMsg(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		if writeSSEEvent(w, event) {
			flusher.Flush()
		}
		if event.Kind == orchestrator.EventDone {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent renders one orchestrator event as an SSE frame, reports
// whether anything was written.
func writeSSEEvent(w http.ResponseWriter, event orchestrator.StreamEvent) bool {
	switch event.Kind {
	case orchestrator.EventSession:
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", mustJSON(map[string]string{"session_id": event.SessionID}))
	case orchestrator.EventDelta:
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(event.Delta))
	case orchestrator.EventTool:
		fmt.Fprintf(w, "event: tool\ndata: %s\n\n", mustJSON(event.Tool))
	case orchestrator.EventError:
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(event.Err))
	case orchestrator.EventDone:
		return false
	default:
		return false
	}
	return true
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// handleListConversations serves GET /api/chat/conversations.
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts := repository.ListSessionsOptions{
		Limit:  clampQueryInt(r, "limit", 50, 1, 200),
		Offset: clampQueryInt(r, "offset", 0, 0, 1<<30),
		Search: r.URL.Query().Get("search"),
	}
	sessions, err := h.cfg.Orchestrator.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleDeleteSession serves DELETE /api/chat/session/{id}.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.cfg.Orchestrator.ClearSession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionMessages serves GET /api/chat/session/{id}/messages.
func (h *Handler) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := h.cfg.Orchestrator.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeErrorMsg(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleGenerateTitle serves POST /api/chat/session/{id}/generate-title.
func (h *Handler) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	title, err := h.cfg.Orchestrator.GenerateTitle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   id,
		"title":        title,
		"title_source": models.TitleSourceAI,
	})
}

// handleHealthz serves GET /healthz.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// clampQueryInt parses an integer query parameter, falling back to def and
// clamping to [min, max].
func clampQueryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
