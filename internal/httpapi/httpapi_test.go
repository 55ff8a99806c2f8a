package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"chathub/internal/chat"
	"chathub/internal/keys"
	"chathub/internal/store"
)

const testPepper = "test-pepper"

type fakeService struct {
	chatFn func(ctx context.Context, req chat.Request) (*chat.Result, error)

	conversations []store.Conversation
	messages      []store.Message
	usage         *chat.UsageReport
	pins          []uuid.UUID

	renameErr error
	deleteErr error
	pinErr    error

	lastRename   string
	lastModelKey string
	lastPin      struct {
		messageID uuid.UUID
		pinned    bool
	}
}

func (f *fakeService) HandleChat(ctx context.Context, req chat.Request) (*chat.Result, error) {
	return f.chatFn(ctx, req)
}

func (f *fakeService) ListConversations(context.Context, uuid.UUID, int) ([]store.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeService) ListMessages(context.Context, uuid.UUID, uuid.UUID, int) ([]store.Message, error) {
	return f.messages, nil
}

func (f *fakeService) RenameConversation(_ context.Context, _ uuid.UUID, _ uuid.UUID, title string) error {
	f.lastRename = title
	return f.renameErr
}

func (f *fakeService) DeleteConversation(context.Context, uuid.UUID, uuid.UUID) error {
	return f.deleteErr
}

func (f *fakeService) DeleteMessage(context.Context, uuid.UUID, uuid.UUID) error {
	return f.deleteErr
}

func (f *fakeService) SetPinned(_ context.Context, _ uuid.UUID, messageID uuid.UUID, pinned bool) error {
	f.lastPin.messageID = messageID
	f.lastPin.pinned = pinned
	return f.pinErr
}

func (f *fakeService) ListPins(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.pins, nil
}

func (f *fakeService) UsageReport(context.Context, uuid.UUID) (*chat.UsageReport, error) {
	return f.usage, nil
}

func (f *fakeService) UpdateProfile(context.Context, uuid.UUID, string) error {
	return nil
}

func (f *fakeService) SetPersonalModelKey(_ context.Context, _ uuid.UUID, apiKey string) error {
	f.lastModelKey = apiKey
	return nil
}

type fakeResolver struct {
	byHash map[string]*store.User
}

func (f *fakeResolver) GetByAPIKeyHash(_ context.Context, keyHash string) (*store.User, error) {
	u, ok := f.byHash[keyHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

type fakeRecentUsage struct{}

func (fakeRecentUsage) RecentUsage(_ context.Context, _ uuid.UUID, days []time.Time) (map[time.Time]int, error) {
	out := make(map[time.Time]int, len(days))
	for i, d := range days {
		out[d] = i
	}
	return out, nil
}

func newTestServer(t *testing.T, svc *fakeService) (http.Handler, string) {
	t.Helper()
	apiKey := "chk_testkey"
	user := &store.User{ID: uuid.New(), Username: "casey"}
	resolver := &fakeResolver{byHash: map[string]*store.User{
		keys.HashAPIKey(testPepper, apiKey): user,
	}}
	h := NewRouter(Deps{
		Service: svc,
		Users:   resolver,
		Usage:   fakeRecentUsage{},
		Pepper:  testPepper,
	})
	return h, apiKey
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestServer(t, &fakeService{})

	rec := doRequest(t, h, http.MethodGet, "/v1/conversations", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/conversations", "wrong-key", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBlockedUserForbidden(t *testing.T) {
	apiKey := "chk_blocked"
	resolver := &fakeResolver{byHash: map[string]*store.User{
		keys.HashAPIKey(testPepper, apiKey): {ID: uuid.New(), IsBlocked: true},
	}}
	h := NewRouter(Deps{Service: &fakeService{}, Users: resolver, Usage: fakeRecentUsage{}, Pepper: testPepper})

	rec := doRequest(t, h, http.MethodGet, "/v1/conversations", apiKey, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestChatStreamsTokensWithHeaders(t *testing.T) {
	convID := uuid.New()
	userMsgID := uuid.New()
	asstMsgID := uuid.New()
	limit, remaining := 20, 14

	svc := &fakeService{
		chatFn: func(_ context.Context, req chat.Request) (*chat.Result, error) {
			req.OnStart(chat.RunInfo{
				ConversationID:     convID,
				UserMessageID:      userMsgID,
				AssistantMessageID: asstMsgID,
				Limit:              &limit,
				Remaining:          &remaining,
			})
			for _, tok := range []string{"Hel", "lo ", "there"} {
				req.OnToken(tok)
			}
			return &chat.Result{
				ConversationID:     convID,
				UserMessageID:      userMsgID,
				AssistantMessageID: asstMsgID,
				Text:               "Hello there",
			}, nil
		},
	}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/v1/chat", apiKey, `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hello there" {
		t.Fatalf("body = %q", got)
	}
	if got := rec.Header().Get("X-Conversation-Id"); got != convID.String() {
		t.Fatalf("X-Conversation-Id = %q", got)
	}
	if got := rec.Header().Get("X-Assistant-Message-Id"); got != asstMsgID.String() {
		t.Fatalf("X-Assistant-Message-Id = %q", got)
	}
	if got := rec.Header().Get("X-Usage-Limit"); got != "20" {
		t.Fatalf("X-Usage-Limit = %q", got)
	}
	if got := rec.Header().Get("X-Usage-Remaining"); got != "14" {
		t.Fatalf("X-Usage-Remaining = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestChatWritesFinalTextWhenNothingStreamed(t *testing.T) {
	svc := &fakeService{
		chatFn: func(_ context.Context, req chat.Request) (*chat.Result, error) {
			req.OnStart(chat.RunInfo{ConversationID: uuid.New()})
			return &chat.Result{Text: "direct answer"}, nil
		},
	}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/v1/chat", apiKey, `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "direct answer" {
		t.Fatalf("body = %q", got)
	}
}

func TestChatErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"quota", chat.ErrQuotaExceeded, http.StatusTooManyRequests},
		{"in flight", chat.ErrRunInFlight, http.StatusConflict},
		{"not found", chat.ErrNotFound, http.StatusNotFound},
		{"empty", chat.ErrEmptyPrompt, http.StatusBadRequest},
		{"unauthorized", chat.ErrUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				chatFn: func(context.Context, chat.Request) (*chat.Result, error) {
					return nil, tt.err
				},
			}
			h, apiKey := newTestServer(t, svc)
			rec := doRequest(t, h, http.MethodPost, "/v1/chat", apiKey, `{"message":"hi"}`)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestChatRejectsMalformedConversationID(t *testing.T) {
	h, apiKey := newTestServer(t, &fakeService{})
	rec := doRequest(t, h, http.MethodPost, "/v1/chat", apiKey, `{"message":"hi","conversationId":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListConversations(t *testing.T) {
	title := "first chat"
	svc := &fakeService{
		conversations: []store.Conversation{
			{ID: uuid.New(), Title: &title, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		},
	}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/v1/conversations", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Conversations []conversationDTO `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Conversations) != 1 || out.Conversations[0].Title == nil || *out.Conversations[0].Title != "first chat" {
		t.Fatalf("conversations = %+v", out.Conversations)
	}
}

func TestRenameConversationStatusMapping(t *testing.T) {
	svc := &fakeService{renameErr: chat.ErrNotFound}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodPatch, "/v1/conversations/"+uuid.NewString(), apiKey, `{"title":"renamed"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if svc.lastRename != "renamed" {
		t.Fatalf("lastRename = %q", svc.lastRename)
	}
}

func TestSetPin(t *testing.T) {
	svc := &fakeService{}
	h, apiKey := newTestServer(t, svc)

	msgID := uuid.New()
	rec := doRequest(t, h, http.MethodPost, "/v1/pins", apiKey, `{"messageId":"`+msgID.String()+`","pinned":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastPin.messageID != msgID || !svc.lastPin.pinned {
		t.Fatalf("lastPin = %+v", svc.lastPin)
	}
}

func TestListPins(t *testing.T) {
	pinned := uuid.New()
	svc := &fakeService{pins: []uuid.UUID{pinned}}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/v1/pins", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.MessageIDs) != 1 || body.MessageIDs[0] != pinned.String() {
		t.Fatalf("messageIds = %v", body.MessageIDs)
	}
}

func TestGetUsage(t *testing.T) {
	limit, remaining := 20, 17
	svc := &fakeService{
		usage: &chat.UsageReport{
			UsedTotal:    3,
			UsedShared:   3,
			Limit:        &limit,
			Remaining:    &remaining,
			DefaultLimit: 20,
		},
	}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/v1/usage", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out usageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Used != 3 || out.Limit == nil || *out.Limit != 20 || out.Remaining == nil || *out.Remaining != 17 {
		t.Fatalf("usage = %+v", out)
	}
}

func TestGetUsageUnlimitedIsNull(t *testing.T) {
	svc := &fakeService{
		usage: &chat.UsageReport{UsedTotal: 99, HasPersonalKey: true, DefaultLimit: 20},
	}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/v1/usage", apiKey, "")
	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["limit"] != nil || raw["remaining"] != nil {
		t.Fatalf("limit/remaining = %v/%v, want null", raw["limit"], raw["remaining"])
	}
}

func TestUsageHistoryZeroFilled(t *testing.T) {
	h, apiKey := newTestServer(t, &fakeService{})

	rec := doRequest(t, h, http.MethodGet, "/v1/usage/history?days=5", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Days []usageDayDTO `json:"days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Days) != 5 {
		t.Fatalf("days = %d, want 5", len(out.Days))
	}
}

func TestSetAndClearModelKey(t *testing.T) {
	svc := &fakeService{}
	h, apiKey := newTestServer(t, svc)

	rec := doRequest(t, h, http.MethodPut, "/v1/profile/model-key", apiKey, `{"api_key":"sk-mine"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastModelKey != "sk-mine" {
		t.Fatalf("lastModelKey = %q", svc.lastModelKey)
	}

	rec = doRequest(t, h, http.MethodPut, "/v1/profile/model-key", apiKey, `{"api_key":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank key status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/v1/profile/model-key", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if svc.lastModelKey != "" {
		t.Fatalf("lastModelKey after clear = %q", svc.lastModelKey)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t, &fakeService{})
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
