package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/canburaks/arch/internal/gitutil"
)

// NotesBackend stores each namespace as a commit-note under a stable anchor
// blob, hashed once and recorded in a local anchor file (spec.md §4.1). Ref
// per namespace: refs/notes/<root>/<ns>. Updates force-overwrite the note.
type NotesBackend struct {
	repoDir    string
	root       string
	anchorPath string
	anchorSHA  string
}

// NewNotesBackend returns a backend rooted at repoDir, using root as the
// notes-ref namespace prefix ("refs/notes/<root>/<ns>"). anchorFile records
// the anchor blob's SHA across process restarts so every writer agrees on
// which object the notes are attached to.
func NewNotesBackend(repoDir, root, anchorFile string) (*NotesBackend, error) {
	b := &NotesBackend{repoDir: repoDir, root: root, anchorPath: anchorFile}
	if err := b.ensureAnchor(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *NotesBackend) Name() string { return string(BackendNotes) }

func (b *NotesBackend) ensureAnchor() error {
	if existing, err := os.ReadFile(b.anchorPath); err == nil {
		sha := strings.TrimSpace(string(existing))
		if sha != "" {
			b.anchorSHA = sha
			return nil
		}
	}
	sha, err := gitutil.AnchorBlobSHA(b.repoDir, "architect-state-anchor:"+b.root+"\n")
	if err != nil {
		return fmt.Errorf("create notes anchor: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.anchorPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(b.anchorPath, []byte(sha+"\n"), 0o644); err != nil {
		return err
	}
	b.anchorSHA = sha
	return nil
}

func (b *NotesBackend) notesRef(ns Namespace) string {
	return fmt.Sprintf("refs/notes/%s/%s", b.root, ns)
}

func (b *NotesBackend) Read(ns Namespace) (json.RawMessage, bool, error) {
	body, ok, err := gitutil.NotesShow(b.repoDir, b.notesRef(ns), b.anchorSHA)
	if err != nil {
		return nil, false, err
	}
	if !ok || strings.TrimSpace(body) == "" {
		return nil, false, nil
	}
	return json.RawMessage(body), true, nil
}

func (b *NotesBackend) Write(ns Namespace, raw json.RawMessage) error {
	return gitutil.NotesAddForce(b.repoDir, b.notesRef(ns), b.anchorSHA, string(raw))
}
