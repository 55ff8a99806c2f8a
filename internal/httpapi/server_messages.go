package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	msgID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message id"})
		return
	}

	if err := s.svc.DeleteMessage(r.Context(), user.ID, msgID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type setPinRequest struct {
	MessageID string `json:"messageId"`
	Pinned    bool   `json:"pinned"`
}

func (s server) handleSetPin(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req setPinRequest
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}
	msgID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message id"})
		return
	}

	if err := s.svc.SetPinned(r.Context(), user.ID, msgID, req.Pinned); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messageId": req.MessageID, "pinned": req.Pinned})
}

func (s server) handleListPins(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ids, err := s.svc.ListPins(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"messageIds": out})
}
