package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"chathub/internal/agent"
	"chathub/internal/chat"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// handleChat streams the assistant's reply as chunked text/plain.
// Identifiers and quota state ride on response headers because the
// body is reserved for model tokens. Headers are committed lazily on
// the first token, so failures before any output still get a proper
// error status.
func (s server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req chatRequest
	if !readJSONLimited(w, r, &req, 64*1024) {
		return
	}

	var convID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
			return
		}
		convID = &id
	}

	flusher, canFlush := w.(http.Flusher)

	var info *chat.RunInfo
	headersSent := false
	wroteBody := false
	sendHeaders := func() {
		if headersSent {
			return
		}
		headersSent = true
		h := w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("X-Accel-Buffering", "no")
		if info != nil {
			h.Set("X-Conversation-Id", info.ConversationID.String())
			h.Set("X-User-Message-Id", info.UserMessageID.String())
			h.Set("X-Assistant-Message-Id", info.AssistantMessageID.String())
			if info.Limit != nil {
				h.Set("X-Usage-Limit", strconv.Itoa(*info.Limit))
			}
			if info.Remaining != nil {
				h.Set("X-Usage-Remaining", strconv.Itoa(*info.Remaining))
			}
		}
		w.WriteHeader(http.StatusOK)
	}

	res, err := s.svc.HandleChat(r.Context(), chat.Request{
		UserID:         user.ID,
		Prompt:         req.Message,
		ConversationID: convID,
		OnStart: func(ri chat.RunInfo) {
			info = &ri
		},
		OnToken: func(token string) {
			sendHeaders()
			wroteBody = true
			if _, err := w.Write([]byte(token)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		},
	})

	if err != nil {
		var partial *agent.PartialError
		if errors.As(err, &partial) && res != nil {
			// The partial text already went out token by token.
			logError(r.Context(), "chat run ended with partial output", err)
			sendHeaders()
			return
		}
		if headersSent {
			// Mid-stream failure after output started; the client sees a
			// truncated body.
			logError(r.Context(), "chat run failed mid-stream", err)
			return
		}
		writeServiceError(w, r, err)
		return
	}

	sendHeaders()
	if res.Text != "" && !wroteBody {
		// A run that never streamed (no OnToken calls) still has final
		// text to deliver.
		if _, werr := w.Write([]byte(res.Text)); werr != nil {
			logError(r.Context(), "write final text failed", werr)
		}
	}
}
