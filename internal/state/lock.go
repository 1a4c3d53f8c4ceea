package state

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// lockHolder is the msgpack-encoded payload written into the lock file: an
// internal, high-frequency, non-user-facing record, so it is encoded compactly
// rather than as JSON (matching the teacher's preference for a binary cache
// alongside JSON-canonical state; see DESIGN.md).
type lockHolder struct {
	PID        int       `msgpack:"pid"`
	Host       string    `msgpack:"host"`
	AcquiredAt time.Time `msgpack:"acquired_at"`
}

// FileLock is an exclusive on-disk lock implemented with O_CREATE|O_EXCL,
// matching spec.md §4.1: "every write acquires an exclusive on-disk lock file
// with a bounded wait of a few seconds before failing."
type FileLock struct {
	path string
}

// NewFileLock returns a lock bound to path (typically "<stateDir>/.lock").
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// DefaultLockWait is the bounded wait before a lock acquisition fails.
const DefaultLockWait = 5 * time.Second

// Acquire blocks (up to DefaultLockWait) until the lock file can be created
// exclusively, then returns a release function.
func (l *FileLock) Acquire() (func(), error) {
	return l.acquireWithin(DefaultLockWait)
}

func (l *FileLock) acquireWithin(timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	host, _ := os.Hostname()
	payload, err := msgpack.Marshal(lockHolder{
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.Write(payload)
			_ = f.Close()
			return func() { _ = os.Remove(l.path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lock %s: timed out after %s", l.path, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
