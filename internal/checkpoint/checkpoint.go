// Package checkpoint persists agent-run state as an append-only
// sequence of snapshots per thread. The store treats every payload as
// an opaque blob: it sanitizes and canonicalizes JSON so round-trips
// are byte-exact, but never inspects the shape inside.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/google/uuid"
)

// SchemaVersion tags stored payloads so future readers can migrate.
const SchemaVersion = 1

var (
	// ErrNotFound is returned when a thread has no checkpoints.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrThreadMissing is returned when no thread id is resolvable
	// from the caller's run configuration.
	ErrThreadMissing = errors.New("thread id missing")
)

// PendingWrite is a side effect proposed during a step but not yet
// folded into the next snapshot.
type PendingWrite struct {
	TaskID  string          `json:"task_id"`
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// Tuple is one stored checkpoint with its accumulated pending writes.
type Tuple struct {
	ID            uuid.UUID
	ThreadID      uuid.UUID
	Config        json.RawMessage
	Snapshot      json.RawMessage
	Metadata      json.RawMessage
	ParentID      *uuid.UUID
	PendingWrites []PendingWrite
	CreatedAt     time.Time
}

// Marshal serializes v for storage: non-serializable values (functions,
// channels) are stripped rather than failing the whole payload, and the
// result is canonicalized so equal values always store equal bytes.
func Marshal(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(stripUnserializable(reflect.ValueOf(v)))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites raw JSON into its RFC 8785 canonical form.
func Canonicalize(raw []byte) (json.RawMessage, error) {
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// stripUnserializable walks v and drops anything encoding/json cannot
// represent. Droppable leaves become nil; droppable map entries and
// struct fields disappear entirely.
func stripUnserializable(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return stripUnserializable(v.Elem())
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if serializable(iter.Value()) {
				out[key] = stripUnserializable(iter.Value())
			}
		}
		return out
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, stripUnserializable(v.Index(i)))
		}
		return out
	case reflect.Struct:
		// Let encoding/json handle tags and embedding; structs with
		// unserializable exported fields are rare enough that a failed
		// marshal falls back to field-by-field stripping.
		if _, err := json.Marshal(v.Interface()); err == nil {
			return v.Interface()
		}
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if serializable(v.Field(i)) {
				out[jsonFieldName(f)] = stripUnserializable(v.Field(i))
			}
		}
		return out
	default:
		return v.Interface()
	}
}

func serializable(v reflect.Value) bool {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	if i := len(tag); i > 0 {
		for j := 0; j < i; j++ {
			if tag[j] == ',' {
				if j == 0 {
					return f.Name
				}
				return tag[:j]
			}
		}
	}
	return tag
}
