// Package chat coordinates one chat request end to end: quota check,
// thread resolution, message persistence, the agent run, usage
// accounting, and best-effort summary regeneration.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chathub/internal/agent"
	"chathub/internal/dates"
	"chathub/internal/llm"
	"chathub/internal/quota"
	"chathub/internal/store"
)

// titleLimit is how much of the first prompt becomes the conversation
// title.
const titleLimit = 60

// summaryTimeout bounds the detached summary regeneration task.
const summaryTimeout = 60 * time.Second

// finalizeTimeout bounds the post-run persistence writes, which must
// complete even after the requester has gone away.
const finalizeTimeout = 10 * time.Second

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	SetProfileSummary(ctx context.Context, userID uuid.UUID, text string) error
	SetPersonalAPIKeyCipher(ctx context.Context, userID uuid.UUID, cipher *string) error
}

type ConversationStore interface {
	Create(ctx context.Context, userID uuid.UUID, title string) (*store.Conversation, error)
	GetOwned(ctx context.Context, id, userID uuid.UUID) (*store.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]store.Conversation, error)
	Rename(ctx context.Context, id, userID uuid.UUID, title string) error
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type MessageStore interface {
	Create(ctx context.Context, conversationID uuid.UUID, role, content string) (*store.Message, error)
	ListRecent(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error)
	GetOwned(ctx context.Context, id, userID uuid.UUID) (*store.Message, error)
	SetContent(ctx context.Context, id uuid.UUID, content string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PinStore interface {
	Set(ctx context.Context, userID, messageID uuid.UUID, pinned bool) error
	ListMessageIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type UsageLedger interface {
	GetUsage(ctx context.Context, userID uuid.UUID, day time.Time) (quota.Usage, error)
	IncrementAndGetTotal(ctx context.Context, userID uuid.UUID, day time.Time, src quota.Source) (int, error)
	EffectiveLimit(u *store.User) *int
}

// Runner executes one agent run. Implemented by *agent.Runtime.
type Runner interface {
	Run(ctx context.Context, p agent.Params) (string, error)
}

// SecretBox seals and opens stored personal model keys.
type SecretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(payload string) (string, error)
}

// RunnerFactory builds a runner bound to a user's personal model
// credentials.
type RunnerFactory func(modelAPIKey string) (Runner, error)

type Summarizer interface {
	Regenerate(ctx context.Context, conversationID uuid.UUID) error
}

// ThreadDeleter removes a conversation's checkpoint history.
type ThreadDeleter interface {
	DeleteThread(ctx context.Context, threadID uuid.UUID) error
}

// ToolFactory builds the capability-scoped tool registry for a user.
type ToolFactory func(userID uuid.UUID) []agent.Tool

type Config struct {
	HistoryWindow int
	ModelTimeout  time.Duration
	DefaultLimit  int
}

type Service struct {
	users      UserStore
	convs      ConversationStore
	msgs       MessageStore
	pins       PinStore
	ledger     UsageLedger
	runner     Runner
	summarizer Summarizer
	threads    ThreadDeleter
	tools      ToolFactory
	cfg        Config

	// Optional personal-credential path. When both are set, users with
	// a stored personal key run against their own model account.
	secrets   SecretBox
	runnerFor RunnerFactory

	// active tracks conversations with a run in flight so a second
	// concurrent run on the same thread is rejected, not interleaved.
	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	// async runs detached best-effort work. Tests replace it to run
	// inline.
	async func(fn func())
}

func NewService(users UserStore, convs ConversationStore, msgs MessageStore, pins PinStore,
	ledger UsageLedger, runner Runner, summarizer Summarizer, threads ThreadDeleter,
	tools ToolFactory, cfg Config) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 12
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 120 * time.Second
	}
	return &Service{
		users:      users,
		convs:      convs,
		msgs:       msgs,
		pins:       pins,
		ledger:     ledger,
		runner:     runner,
		summarizer: summarizer,
		threads:    threads,
		tools:      tools,
		cfg:        cfg,
		active:     map[uuid.UUID]struct{}{},
		async:      func(fn func()) { go fn() },
	}
}

// EnablePersonalRunners turns on the personal-credential path.
func (s *Service) EnablePersonalRunners(secrets SecretBox, factory RunnerFactory) {
	s.secrets = secrets
	s.runnerFor = factory
}

// runnerForUser picks the runner for this request. A broken personal
// key falls back to the shared runner rather than failing the turn.
func (s *Service) runnerForUser(user *store.User) Runner {
	if s.secrets == nil || s.runnerFor == nil || !user.HasPersonalKey() {
		return s.runner
	}
	plain, err := s.secrets.Decrypt(*user.PersonalAPIKeyCipher)
	if err != nil {
		log.Printf("chat: decrypt personal key for %s: %v", user.ID, err)
		return s.runner
	}
	r, err := s.runnerFor(plain)
	if err != nil {
		log.Printf("chat: build personal runner for %s: %v", user.ID, err)
		return s.runner
	}
	return r
}

// Request is one inbound chat turn.
type Request struct {
	UserID         uuid.UUID
	Prompt         string
	ConversationID *uuid.UUID
	// OnStart fires after both message rows exist, before the model
	// call. Streaming callers use it to commit response headers.
	OnStart func(info RunInfo)
	OnToken llm.TokenFunc
}

// RunInfo identifies an admitted run. Remaining is the projected
// post-success value; GET /v1/usage is authoritative.
type RunInfo struct {
	ConversationID     uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Limit              *int
	Remaining          *int
}

// Result reports where the turn landed and the caller's remaining
// capacity (nil when unbounded).
type Result struct {
	ConversationID     uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Text               string
	Limit              *int
	Remaining          *int
}

// HandleChat runs one chat turn. Tokens stream to req.OnToken while
// the run is in flight; the returned Result is final state. A non-nil
// Result together with a non-nil error is a degraded success: the
// partial text was persisted but the run did not finish cleanly.
func (s *Service) HandleChat(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.GetByID(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user.IsBlocked {
		return nil, ErrUnauthorized
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	// Fail fast before any model call or message write. The matching
	// increment happens only after a successful run; the pair is
	// deliberately not one transaction, so N concurrent requests can
	// transiently exceed the cap by N.
	day := dates.Today()
	limit := s.ledger.EffectiveLimit(user)
	usedToday := 0
	if limit != nil {
		usage, err := s.ledger.GetUsage(ctx, user.ID, day)
		if err != nil {
			return nil, fmt.Errorf("read usage: %w", err)
		}
		if quota.IsOverLimit(usage.Total, limit) {
			return nil, ErrQuotaExceeded
		}
		usedToday = usage.Total
	}

	conv, err := s.resolveConversation(ctx, req, prompt)
	if err != nil {
		return nil, err
	}

	if !s.admit(conv.ID) {
		return nil, ErrRunInFlight
	}
	defer s.release(conv.ID)

	history, err := s.msgs.ListRecent(ctx, conv.ID, s.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// Both rows exist before the run starts so a crash mid-run still
	// leaves an auditable trail.
	userMsg, err := s.msgs.Create(ctx, conv.ID, store.RoleUser, prompt)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	assistantMsg, err := s.msgs.Create(ctx, conv.ID, store.RoleAssistant, "")
	if err != nil {
		return nil, fmt.Errorf("persist assistant placeholder: %w", err)
	}

	res := &Result{
		ConversationID:     conv.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Limit:              limit,
	}

	if req.OnStart != nil {
		req.OnStart(RunInfo{
			ConversationID:     conv.ID,
			UserMessageID:      userMsg.ID,
			AssistantMessageID: assistantMsg.ID,
			Limit:              limit,
			Remaining:          quota.Remaining(usedToday+1, limit),
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()
	text, runErr := s.runnerForUser(user).Run(runCtx, agent.Params{
		ThreadID: conv.ID,
		Prompt:   prompt,
		History:  history,
		Tools:    s.tools(user.ID),
		OnToken:  req.OnToken,
	})

	// The caller may have disconnected mid-stream, canceling ctx. The
	// accumulated text still has to land, so finalize writes run on a
	// detached context with their own deadline.
	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()

	if runErr != nil {
		var partial *agent.PartialError
		if errors.As(runErr, &partial) && text != "" {
			// Keep whatever was streamed; never fabricate, never lose.
			if err := s.msgs.SetContent(finCtx, assistantMsg.ID, text); err != nil {
				return nil, fmt.Errorf("persist partial text: %w", err)
			}
			res.Text = text
			return res, runErr
		}
		// Placeholder stays empty; deleting it would hide the attempt.
		return nil, runErr
	}

	if err := s.msgs.SetContent(finCtx, assistantMsg.ID, text); err != nil {
		return nil, fmt.Errorf("finalize assistant message: %w", err)
	}
	if err := s.convs.Touch(finCtx, conv.ID); err != nil {
		log.Printf("chat: touch conversation %s: %v", conv.ID, err)
	}
	res.Text = text

	src := quota.SourceShared
	if user.HasPersonalKey() {
		src = quota.SourcePersonal
	}
	total, err := s.ledger.IncrementAndGetTotal(finCtx, user.ID, day, src)
	if err != nil {
		return nil, fmt.Errorf("charge usage: %w", err)
	}
	res.Remaining = quota.Remaining(total, limit)

	// Detached best-effort enrichment; its only shared state is the
	// conversation's summary column.
	convID := conv.ID
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()
		if err := s.summarizer.Regenerate(ctx, convID); err != nil {
			log.Printf("chat: summary regeneration for %s: %v", convID, err)
		}
	})

	return res, nil
}

func (s *Service) resolveConversation(ctx context.Context, req Request, prompt string) (*store.Conversation, error) {
	if req.ConversationID != nil {
		conv, err := s.convs.GetOwned(ctx, *req.ConversationID, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolve conversation: %w", err)
		}
		return conv, nil
	}
	conv, err := s.convs.Create(ctx, req.UserID, firstRunes(prompt, titleLimit))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) admit(conversationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[conversationID]; busy {
		return false
	}
	s.active[conversationID] = struct{}{}
	return true
}

func (s *Service) release(conversationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, conversationID)
}

// UsageReport is the read-only view for the usage endpoint.
type UsageReport struct {
	UsedTotal      int
	UsedShared     int
	UsedPersonal   int
	Limit          *int // nil when unbounded
	Remaining      *int // nil when unbounded
	DefaultLimit   int
	HasPersonalKey bool
}

func (s *Service) UsageReport(ctx context.Context, userID uuid.UUID) (*UsageReport, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	usage, err := s.ledger.GetUsage(ctx, userID, dates.Today())
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	limit := s.ledger.EffectiveLimit(user)
	return &UsageReport{
		UsedTotal:      usage.Total,
		UsedShared:     usage.Shared,
		UsedPersonal:   usage.Personal,
		Limit:          limit,
		Remaining:      quota.Remaining(usage.Total, limit),
		DefaultLimit:   s.cfg.DefaultLimit,
		HasPersonalKey: user.HasPersonalKey(),
	}, nil
}

func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]store.Conversation, error) {
	return s.convs.ListByUser(ctx, userID, limit)
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, n int) ([]store.Message, error) {
	if _, err := s.convs.GetOwned(ctx, conversationID, userID); err != nil {
		return nil, mapNotFound(err)
	}
	return s.msgs.ListRecent(ctx, conversationID, n)
}

func (s *Service) RenameConversation(ctx context.Context, userID, conversationID uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyPrompt
	}
	return mapNotFound(s.convs.Rename(ctx, conversationID, userID, firstRunes(title, titleLimit)))
}

// DeleteConversation removes the conversation, its messages (cascade),
// and the thread's checkpoint history.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	if err := s.convs.Delete(ctx, conversationID, userID); err != nil {
		return mapNotFound(err)
	}
	if err := s.threads.DeleteThread(ctx, conversationID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.msgs.GetOwned(ctx, messageID, userID)
	if err != nil {
		return mapNotFound(err)
	}
	return mapNotFound(s.msgs.Delete(ctx, msg.ID))
}

// SetPinned makes the pin state match pinned; both directions are
// idempotent. Only the owner of the message's conversation may pin it.
func (s *Service) SetPinned(ctx context.Context, userID, messageID uuid.UUID, pinned bool) error {
	if _, err := s.msgs.GetOwned(ctx, messageID, userID); err != nil {
		return mapNotFound(err)
	}
	return s.pins.Set(ctx, userID, messageID, pinned)
}

// ListPins returns the ids of the caller's pinned messages.
func (s *Service) ListPins(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.pins.ListMessageIDs(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, text string) error {
	return mapNotFound(s.users.SetProfileSummary(ctx, userID, strings.TrimSpace(text)))
}

// SetPersonalModelKey encrypts and stores a user-supplied model key.
// An empty key clears the stored cipher, returning the user to shared
// capacity and the daily cap.
func (s *Service) SetPersonalModelKey(ctx context.Context, userID uuid.UUID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return mapNotFound(s.users.SetPersonalAPIKeyCipher(ctx, userID, nil))
	}
	if s.secrets == nil {
		return errors.New("personal model keys are not enabled")
	}
	sealed, err := s.secrets.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("seal personal key: %w", err)
	}
	return mapNotFound(s.users.SetPersonalAPIKeyCipher(ctx, userID, &sealed))
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
