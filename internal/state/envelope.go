// Package state implements the versioned, namespaced key/value store
// described in spec.md §4.1: JSON envelopes with optimistic CAS updates,
// backed by commit-notes, a dedicated branch, or a local directory.
package state

import (
	"encoding/json"
	"time"
)

// Namespace names one of the seven persistent state buckets.
type Namespace string

const (
	NSContext     Namespace = "context"
	NSTasks       Namespace = "tasks"
	NSDecisions   Namespace = "decisions"
	NSCheckpoints Namespace = "checkpoints"
	NSMetrics     Namespace = "metrics"
	NSRuns        Namespace = "runs"
	NSLeases      Namespace = "leases"
)

// CurrentSchemaVersion is stamped onto every envelope written by this binary.
const CurrentSchemaVersion = 1

// Envelope is the generic `{schema_version, revision, updated_at, data}`
// wrapper every namespace's payload is stored in.
type Envelope[T any] struct {
	SchemaVersion int       `json:"schema_version"`
	Revision      int64     `json:"revision"`
	UpdatedAt     time.Time `json:"updated_at"`
	Data          T         `json:"data"`
}

// rawEnvelope mirrors Envelope but keeps Data undecoded, used to detect
// whether a stored payload is already enveloped or a legacy bare blob.
type rawEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	Revision      int64           `json:"revision"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Data          json.RawMessage `json:"data"`
}

// looksEnveloped reports whether raw decodes as an object carrying all four
// envelope keys (schema_version, revision, updated_at, data). A payload
// missing any of these is treated as a legacy bare blob per spec.md §4.1's
// migration rule.
func looksEnveloped(raw json.RawMessage) (rawEnvelope, bool) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return rawEnvelope{}, false
	}
	for _, key := range []string{"schema_version", "revision", "updated_at", "data"} {
		if _, ok := generic[key]; !ok {
			return rawEnvelope{}, false
		}
	}
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return rawEnvelope{}, false
	}
	return env, true
}

// decodeEnvelope parses raw into a typed Envelope[T], migrating legacy
// (non-enveloped) payloads to revision 1 and wrapping the raw bytes as Data.
func decodeEnvelope[T any](raw json.RawMessage, now time.Time) (Envelope[T], error) {
	var zero T
	if env, ok := looksEnveloped(raw); ok {
		var data T
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Envelope[T]{}, err
		}
		return Envelope[T]{
			SchemaVersion: env.SchemaVersion,
			Revision:      env.Revision,
			UpdatedAt:     env.UpdatedAt,
			Data:          data,
		}, nil
	}
	// Legacy bare blob: try to decode it directly as T; on failure, fall back
	// to the zero value (an empty/garbage file is treated as "no data yet").
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		data = zero
	}
	return Envelope[T]{
		SchemaVersion: CurrentSchemaVersion,
		Revision:      1,
		UpdatedAt:     now,
		Data:          data,
	}, nil
}

func encodeEnvelope[T any](env Envelope[T]) (json.RawMessage, error) {
	return json.Marshal(env)
}
