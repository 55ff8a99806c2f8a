package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"chathub/internal/llm"
	"chathub/internal/store"
)

type fakeMsgs struct {
	msgs []store.Message
	err  error
}

func (f *fakeMsgs) ListRecent(context.Context, uuid.UUID, int) ([]store.Message, error) {
	return f.msgs, f.err
}

type fakeConvs struct {
	summary string
	calls   int
	err     error
}

func (f *fakeConvs) SetSummary(_ context.Context, _ uuid.UUID, s string) error {
	if f.err != nil {
		return f.err
	}
	f.summary = s
	f.calls++
	return nil
}

type fakeLLM struct {
	prompt string
	out    string
	err    error
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func (f *fakeLLM) StreamChat(context.Context, []llm.Message, []llm.ToolSpec, llm.TokenFunc) (*llm.Result, error) {
	panic("summary generator must not stream")
}

func TestRegenerate_StoresSummary(t *testing.T) {
	msgs := &fakeMsgs{msgs: []store.Message{
		{Role: "user", Content: "Plan my trip"},
		{Role: "assistant", Content: "Sure, where to?"},
	}}
	convs := &fakeConvs{}
	client := &fakeLLM{out: "  User is planning a trip; assistant gathering destination.  "}

	g := NewGenerator(client, msgs, convs, 60)
	if err := g.Regenerate(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if convs.summary != "User is planning a trip; assistant gathering destination." {
		t.Errorf("summary = %q", convs.summary)
	}
	if !strings.Contains(client.prompt, "under 60 words") {
		t.Errorf("prompt = %q", client.prompt)
	}
	if !strings.Contains(client.prompt, "user: Plan my trip\nassistant: Sure, where to?") {
		t.Errorf("prompt transcript wrong: %q", client.prompt)
	}
}

func TestRegenerate_TruncatesTranscript(t *testing.T) {
	long := strings.Repeat("a", 6000)
	msgs := &fakeMsgs{msgs: []store.Message{{Role: "user", Content: long}}}
	client := &fakeLLM{out: "summary"}

	g := NewGenerator(client, msgs, &fakeConvs{}, 60)
	if err := g.Regenerate(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	// Prompt = instruction + blank line + transcript tail.
	if !strings.HasSuffix(client.prompt, strings.Repeat("a", 4000)) {
		t.Error("transcript tail missing")
	}
	if strings.Contains(client.prompt, "user: "+strings.Repeat("a", 4000)) {
		t.Error("transcript was not truncated to its final 4000 chars")
	}
}

func TestRegenerate_EmptyTranscriptSkipsModel(t *testing.T) {
	client := &fakeLLM{out: "should not be used"}
	convs := &fakeConvs{}
	g := NewGenerator(client, &fakeMsgs{msgs: []store.Message{{Role: "user", Content: "   "}}}, convs, 60)

	if err := g.Regenerate(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if client.prompt != "" {
		t.Error("model was called for a blank transcript")
	}
	if convs.calls != 0 {
		t.Error("summary was written for a blank transcript")
	}
}

func TestRegenerate_ModelFailureLeavesSummary(t *testing.T) {
	convs := &fakeConvs{summary: "previous"}
	client := &fakeLLM{err: errors.New("upstream down")}
	g := NewGenerator(client, &fakeMsgs{msgs: []store.Message{{Role: "user", Content: "hi"}}}, convs, 60)

	if err := g.Regenerate(context.Background(), uuid.New()); err == nil {
		t.Fatal("Regenerate succeeded, want error for logging")
	}
	if convs.summary != "previous" {
		t.Errorf("summary = %q, want untouched", convs.summary)
	}
}

func TestRegenerate_EmptyResultLeavesSummary(t *testing.T) {
	convs := &fakeConvs{summary: "previous", calls: 0}
	client := &fakeLLM{out: "   "}
	g := NewGenerator(client, &fakeMsgs{msgs: []store.Message{{Role: "user", Content: "hi"}}}, convs, 60)

	if err := g.Regenerate(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if convs.calls != 0 {
		t.Error("empty model output overwrote the summary")
	}
}
