package state

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/canburaks/arch/internal/coreerr"
)

// MaxUpdateRetries bounds the read-modify-write CAS retry loop (spec.md §4.1:
// "up to four retries").
const MaxUpdateRetries = 4

// Store is the namespaced key/value store described in spec.md §4.1. It
// layers locking and optimistic-concurrency revisions on top of a Backend.
type Store struct {
	backend Backend
	lock    *FileLock
}

// New wraps backend with a file lock rooted at lockDir/.lock.
func New(backend Backend, lockDir string) *Store {
	return &Store{backend: backend, lock: NewFileLock(filepath.Join(lockDir, ".lock"))}
}

// BackendName reports which concrete backend this store was constructed with.
func (s *Store) BackendName() string { return s.backend.Name() }

// GetEnvelope reads ns's full envelope (including revision and timestamp).
// A namespace with nothing written yet returns a revision-0 envelope wrapping
// the zero value of T, which GetData/Update treat as "not found".
func GetEnvelope[T any](s *Store, ns Namespace) (Envelope[T], error) {
	raw, found, err := s.backend.Read(ns)
	if err != nil {
		return Envelope[T]{}, err
	}
	if !found {
		return Envelope[T]{SchemaVersion: CurrentSchemaVersion}, nil
	}
	return decodeEnvelope[T](raw, time.Now().UTC())
}

// GetData reads ns's data, or def if the namespace is empty.
func GetData[T any](s *Store, ns Namespace, def T) (T, error) {
	env, err := GetEnvelope[T](s, ns)
	if err != nil {
		return def, err
	}
	if env.Revision == 0 {
		return def, nil
	}
	return env.Data, nil
}

// Set writes data to ns. If expectedRevision is non-nil, the write fails with
// a StateConcurrency error unless the namespace's current revision matches
// (spec.md §4.1 / §7).
func Set[T any](s *Store, ns Namespace, data T, expectedRevision *int64) error {
	unlock, err := s.lock.Acquire()
	if err != nil {
		return err
	}
	defer unlock()

	current, err := GetEnvelope[T](s, ns)
	if err != nil {
		return err
	}
	if expectedRevision != nil && current.Revision != *expectedRevision {
		return coreerr.StateConcurrency("concurrent update: expected revision " +
			itoa64(*expectedRevision) + " but found " + itoa64(current.Revision))
	}

	next := Envelope[T]{
		SchemaVersion: CurrentSchemaVersion,
		Revision:      current.Revision + 1,
		UpdatedAt:     time.Now().UTC(),
		Data:          data,
	}
	raw, err := encodeEnvelope(next)
	if err != nil {
		return err
	}
	return s.backend.Write(ns, raw)
}

// Update performs a read-modify-write on ns, retrying up to MaxUpdateRetries
// times on a CAS mismatch (spec.md §4.1). fn receives the current data (zero
// if unset) and returns the new data.
func Update[T any](s *Store, ns Namespace, zero T, fn func(T) (T, error)) (T, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxUpdateRetries; attempt++ {
		env, err := GetEnvelope[T](s, ns)
		if err != nil {
			return zero, err
		}
		data := env.Data
		if env.Revision == 0 {
			data = zero
		}
		next, err := fn(data)
		if err != nil {
			return zero, err
		}
		expected := env.Revision
		err = Set(s, ns, next, &expected)
		if err == nil {
			return next, nil
		}
		if kind, ok := coreerr.KindOf(err); !ok || kind != coreerr.KindStateConcurrency {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

func itoa64(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
