package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMarshal_Canonical(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("equal values stored different bytes: %s vs %s", a, b)
	}
}

func TestMarshal_StripsFunctions(t *testing.T) {
	payload := map[string]any{
		"v":        SchemaVersion,
		"step":     3,
		"callback": func() {},
		"nested": map[string]any{
			"ok": "value",
			"fn": func(int) int { return 0 },
		},
		"list": []any{"a", func() {}, "b"},
	}
	raw, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := back["callback"]; ok {
		t.Error("function value survived sanitization")
	}
	nested, _ := back["nested"].(map[string]any)
	if _, ok := nested["fn"]; ok {
		t.Error("nested function survived sanitization")
	}
	if nested["ok"] != "value" {
		t.Errorf("nested[ok] = %v", nested["ok"])
	}
	list, _ := back["list"].([]any)
	if len(list) != 3 || list[0] != "a" || list[1] != nil || list[2] != "b" {
		t.Errorf("list = %v", list)
	}
	if back["step"] != float64(3) {
		t.Errorf("step = %v", back["step"])
	}
}

func TestMarshal_RoundTripExact(t *testing.T) {
	raw, err := Marshal(struct {
		V    int      `json:"v"`
		Text string   `json:"text"`
		Tags []string `json:"tags"`
	}{V: SchemaVersion, Text: "héllo \"quoted\"", Tags: []string{"x", "y"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	again, err := Canonicalize(raw)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Errorf("canonical form is not a fixed point: %s vs %s", raw, again)
	}
}

func TestMarshal_NilAndScalars(t *testing.T) {
	for _, v := range []any{nil, "s", 42, true} {
		if _, err := Marshal(v); err != nil {
			t.Errorf("Marshal(%v): %v", v, err)
		}
	}
}

// fakeTuples keeps checkpoint rows in memory with the same append-only
// discipline the SQL layer enforces.
type fakeTuples struct {
	byThread map[uuid.UUID][]*Tuple
	appends  int
	updates  int
}

func newFakeTuples() *fakeTuples {
	return &fakeTuples{byThread: map[uuid.UUID][]*Tuple{}}
}

func (f *fakeTuples) GetLatest(_ context.Context, threadID uuid.UUID) (*Tuple, error) {
	rows := f.byThread[threadID]
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (f *fakeTuples) Append(_ context.Context, threadID uuid.UUID, cfg, snapshot, meta json.RawMessage) (uuid.UUID, error) {
	if threadID == uuid.Nil {
		return uuid.Nil, ErrThreadMissing
	}
	f.appends++
	t := &Tuple{ID: uuid.New(), ThreadID: threadID, Config: cfg, Snapshot: snapshot, Metadata: meta}
	if rows := f.byThread[threadID]; len(rows) > 0 {
		parent := rows[len(rows)-1].ID
		t.ParentID = &parent
	}
	f.byThread[threadID] = append(f.byThread[threadID], t)
	return t.ID, nil
}

func (f *fakeTuples) setPendingWrites(_ context.Context, checkpointID uuid.UUID, canonical json.RawMessage) error {
	f.updates++
	for _, rows := range f.byThread {
		for _, t := range rows {
			if t.ID == checkpointID {
				t.PendingWrites = nil
				return json.Unmarshal(canonical, &t.PendingWrites)
			}
		}
	}
	return ErrNotFound
}

func TestAppendPendingWrites_SeedsEmptyCheckpoint(t *testing.T) {
	f := newFakeTuples()
	threadID := uuid.New()

	writes := []PendingWrite{{TaskID: "t1", Channel: "messages", Value: json.RawMessage(`"x"`)}}
	if err := appendPendingWrites(context.Background(), f, threadID, writes); err != nil {
		t.Fatalf("appendPendingWrites: %v", err)
	}

	rows := f.byThread[threadID]
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want a single seeded checkpoint", len(rows))
	}
	if f.appends != 1 {
		t.Errorf("appends = %d", f.appends)
	}
	got := rows[0].PendingWrites
	if len(got) != 1 || got[0].TaskID != "t1" || got[0].Channel != "messages" {
		t.Errorf("pending writes = %+v", got)
	}
}

func TestAppendPendingWrites_MergesOntoLatest(t *testing.T) {
	f := newFakeTuples()
	threadID := uuid.New()

	ctx := context.Background()
	if _, err := f.Append(ctx, threadID, nil, nil, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := f.Append(ctx, threadID, nil, nil, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	first := []PendingWrite{{TaskID: "t1", Channel: "a", Value: json.RawMessage(`1`)}}
	if err := appendPendingWrites(ctx, f, threadID, first); err != nil {
		t.Fatalf("appendPendingWrites: %v", err)
	}
	second := []PendingWrite{{TaskID: "t2", Channel: "b", Value: json.RawMessage(`2`)}}
	if err := appendPendingWrites(ctx, f, threadID, second); err != nil {
		t.Fatalf("appendPendingWrites: %v", err)
	}

	if f.appends != 2 {
		t.Errorf("appends = %d, merge must not create rows", f.appends)
	}
	rows := f.byThread[threadID]
	if got := rows[0].PendingWrites; len(got) != 0 {
		t.Errorf("older checkpoint gained writes: %+v", got)
	}
	got := rows[1].PendingWrites
	if len(got) != 2 || got[0].TaskID != "t1" || got[1].TaskID != "t2" {
		t.Errorf("merged writes = %+v, want earlier writes preserved in order", got)
	}
}

func TestAppendPendingWrites_Validation(t *testing.T) {
	f := newFakeTuples()

	err := appendPendingWrites(context.Background(), f, uuid.Nil, []PendingWrite{{TaskID: "t"}})
	if !errors.Is(err, ErrThreadMissing) {
		t.Errorf("nil thread: err = %v", err)
	}

	if err := appendPendingWrites(context.Background(), f, uuid.New(), nil); err != nil {
		t.Errorf("empty writes: %v", err)
	}
	if f.appends != 0 || f.updates != 0 {
		t.Errorf("empty writes touched storage: appends=%d updates=%d", f.appends, f.updates)
	}
}
