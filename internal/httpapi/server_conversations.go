package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chathub/internal/store"
)

type conversationDTO struct {
	ID        string  `json:"id"`
	Title     *string `json:"title"`
	Summary   *string `json:"summary,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func conversationToDTO(c store.Conversation) conversationDTO {
	return conversationDTO{
		ID:        c.ID.String(),
		Title:     c.Title,
		Summary:   c.Summary,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = clampInt(n, 1, 200)
		}
	}

	convs, err := s.svc.ListConversations(r.Context(), user.ID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

type messageDTO struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func (s server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	n := 100
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = clampInt(parsed, 1, 500)
		}
	}

	msgs, err := s.svc.ListMessages(r.Context(), user.ID, convID, n)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			ID:        m.ID.String(),
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func (s server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	var req renameConversationRequest
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}

	if err := s.svc.RenameConversation(r.Context(), user.ID, convID, req.Title); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	if err := s.svc.DeleteConversation(r.Context(), user.ID, convID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
