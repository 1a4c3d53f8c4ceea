package state

import (
	"sync"
	"testing"

	"github.com/canburaks/arch/internal/coreerr"
)

type counter struct {
	N int `json:"n"`
}

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewLocalBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(backend, dir)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	s := newLocalStore(t)
	if err := Set(s, NSMetrics, counter{N: 1}, nil); err != nil {
		t.Fatal(err)
	}
	got, err := GetData(s, NSMetrics, counter{})
	if err != nil {
		t.Fatal(err)
	}
	if got.N != 1 {
		t.Errorf("got.N = %d, want 1", got.N)
	}
}

func TestEnvelopeRevisionMonotonic(t *testing.T) {
	s := newLocalStore(t)
	for i := 0; i < 5; i++ {
		if err := Set(s, NSMetrics, counter{N: i}, nil); err != nil {
			t.Fatal(err)
		}
	}
	env, err := GetEnvelope[counter](s, NSMetrics)
	if err != nil {
		t.Fatal(err)
	}
	if env.Revision != 5 {
		t.Errorf("Revision = %d, want 5", env.Revision)
	}
}

func TestSetRejectsStaleRevision(t *testing.T) {
	s := newLocalStore(t)
	if err := Set(s, NSMetrics, counter{N: 1}, nil); err != nil {
		t.Fatal(err)
	}
	stale := int64(0)
	err := Set(s, NSMetrics, counter{N: 2}, &stale)
	if err == nil {
		t.Fatal("expected StateConcurrency error")
	}
	if kind, ok := coreerr.KindOf(err); !ok || kind != coreerr.KindStateConcurrency {
		t.Errorf("err kind = %v, want state_concurrency", kind)
	}
}

func TestUpdateRetriesOnConcurrentWriter(t *testing.T) {
	s := newLocalStore(t)
	if err := Set(s, NSMetrics, counter{N: 0}, nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	const writers = 8
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := Update(s, NSMetrics, counter{}, func(c counter) (counter, error) {
				c.N++
				return c, nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := GetData(s, NSMetrics, counter{})
	if err != nil {
		t.Fatal(err)
	}
	if final.N != writers {
		t.Errorf("final.N = %d, want %d", final.N, writers)
	}
}

func TestLegacyPayloadMigratesOnRead(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewLocalBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Write(NSMetrics, []byte(`{"n":42}`)); err != nil {
		t.Fatal(err)
	}
	s := New(backend, dir)
	env, err := GetEnvelope[counter](s, NSMetrics)
	if err != nil {
		t.Fatal(err)
	}
	if env.Revision != 1 {
		t.Errorf("migrated Revision = %d, want 1", env.Revision)
	}
	if env.Data.N != 42 {
		t.Errorf("migrated Data.N = %d, want 42", env.Data.N)
	}
}

func TestGetDataDefaultWhenEmpty(t *testing.T) {
	s := newLocalStore(t)
	got, err := GetData(s, NSMetrics, counter{N: -1})
	if err != nil {
		t.Fatal(err)
	}
	if got.N != -1 {
		t.Errorf("got.N = %d, want default -1", got.N)
	}
}
