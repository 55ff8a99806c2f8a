package httpapi

import (
	"net/http"
	"strings"
)

type profileResponse struct {
	UserID         string  `json:"user_id"`
	Username       string  `json:"username"`
	DisplayName    string  `json:"display_name"`
	ProfileSummary *string `json:"profile_summary"`
	IsAdmin        bool    `json:"is_admin"`
}

func (s server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		UserID:         user.ID.String(),
		Username:       user.Username,
		DisplayName:    user.DisplayName,
		ProfileSummary: user.ProfileSummary,
		IsAdmin:        user.IsAdmin,
	})
}

type updateProfileRequest struct {
	ProfileSummary string `json:"profile_summary"`
}

func (s server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req updateProfileRequest
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}
	if len(req.ProfileSummary) > 4000 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "profile summary too long"})
		return
	}

	if err := s.svc.UpdateProfile(r.Context(), user.ID, strings.TrimSpace(req.ProfileSummary)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setModelKeyRequest struct {
	APIKey string `json:"api_key"`
}

// handleSetModelKey stores a personal model key. The plaintext is
// sealed before it touches the database and never echoed back.
func (s server) handleSetModelKey(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req setModelKeyRequest
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing api_key"})
		return
	}

	if err := s.svc.SetPersonalModelKey(r.Context(), user.ID, req.APIKey); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s server) handleClearModelKey(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if err := s.svc.SetPersonalModelKey(r.Context(), user.ID, ""); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
