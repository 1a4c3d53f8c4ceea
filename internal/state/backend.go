package state

import "encoding/json"

// Backend is the pluggable storage leaf a Store is constructed with: notes,
// branch, or local (spec.md §4.1). Implementations are not responsible for
// locking or CAS — Store provides both uniformly on top of any Backend.
type Backend interface {
	// Read returns the raw bytes stored for ns, or found=false if nothing has
	// been written yet.
	Read(ns Namespace) (raw json.RawMessage, found bool, err error)
	// Write persists raw as the new content for ns.
	Write(ns Namespace, raw json.RawMessage) error
	// Name identifies the backend kind, for diagnostics and preflight reports.
	Name() string
}

// BackendKind selects which concrete Backend a Store is constructed with.
type BackendKind string

const (
	BackendNotes  BackendKind = "notes"
	BackendBranch BackendKind = "branch"
	BackendLocal  BackendKind = "local"
)
