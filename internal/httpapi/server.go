// Package httpapi exposes the chat service over HTTP: bearer-token
// auth, the streaming chat endpoint, and the conversation, usage, pin,
// and profile management routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"chathub/internal/chat"
	"chathub/internal/keys"
	"chathub/internal/store"
)

// chatService is the slice of *chat.Service the handlers use.
type chatService interface {
	HandleChat(ctx context.Context, req chat.Request) (*chat.Result, error)
	ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]store.Conversation, error)
	ListMessages(ctx context.Context, userID, conversationID uuid.UUID, n int) ([]store.Message, error)
	RenameConversation(ctx context.Context, userID, conversationID uuid.UUID, title string) error
	DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error
	DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error
	SetPinned(ctx context.Context, userID, messageID uuid.UUID, pinned bool) error
	ListPins(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	UsageReport(ctx context.Context, userID uuid.UUID) (*chat.UsageReport, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, text string) error
	SetPersonalModelKey(ctx context.Context, userID uuid.UUID, apiKey string) error
}

// userResolver authenticates bearer tokens. Implemented by *store.Users.
type userResolver interface {
	GetByAPIKeyHash(ctx context.Context, keyHash string) (*store.User, error)
}

type recentUsageReader interface {
	RecentUsage(ctx context.Context, userID uuid.UUID, days []time.Time) (map[time.Time]int, error)
}

type server struct {
	svc    chatService
	users  userResolver
	usage  recentUsageReader
	pepper string
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type ctxKey string

const ctxUser ctxKey = "user"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logErrorNoCtx("writeJSON encode failed", err)
	}
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func readJSONLimited(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := readJSON(r, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := bearerToken(r)
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		hash := keys.HashAPIKey(s.pepper, apiKey)

		user, err := s.users.GetByAPIKeyHash(r.Context(), hash)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		if err != nil {
			logError(r.Context(), "auth lookup failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth lookup failed"})
			return
		}
		if user.IsBlocked {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "account blocked"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromCtx(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(ctxUser).(*store.User)
	return u, ok
}

// writeServiceError maps the chat error taxonomy to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty message"})
	case errors.Is(err, chat.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, chat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, chat.ErrRunInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a response is already being generated for this conversation"})
	case errors.Is(err, chat.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "daily limit reached"})
	default:
		logError(r.Context(), "request failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

