package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/canburaks/arch/internal/gitutil"
)

// BranchBackend maintains a dedicated, ref-updated-but-never-checked-out
// branch whose tree holds "<ns>.json" blobs (spec.md §4.1). Each update
// builds a new tree via a temporary index, writes a commit with the prior
// state as parent, and atomically moves the ref.
type BranchBackend struct {
	repoDir string
	ref     string // e.g. refs/heads/architect/state
}

// NewBranchBackend returns a backend rooted at repoDir, writing to ref.
func NewBranchBackend(repoDir, ref string) (*BranchBackend, error) {
	if !gitutil.IsRepo(repoDir) {
		return nil, fmt.Errorf("branch state backend requires a git repository at %s", repoDir)
	}
	return &BranchBackend{repoDir: repoDir, ref: ref}, nil
}

func (b *BranchBackend) Name() string { return string(BackendBranch) }

func (b *BranchBackend) path(ns Namespace) string { return string(ns) + ".json" }

func (b *BranchBackend) tip() (string, error) {
	return gitutil.ResolveRefOrEmpty(b.repoDir, b.ref)
}

func (b *BranchBackend) Read(ns Namespace) (json.RawMessage, bool, error) {
	tip, err := b.tip()
	if err != nil {
		return nil, false, err
	}
	if tip == "" {
		return nil, false, nil
	}
	body, ok, err := gitutil.ShowBlobAtPath(b.repoDir, tip, b.path(ns))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(body), true, nil
}

func (b *BranchBackend) Write(ns Namespace, raw json.RawMessage) error {
	tip, err := b.tip()
	if err != nil {
		return err
	}
	idx, err := gitutil.NewTreeIndex(b.repoDir, tip)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.SetBlob(b.path(ns), string(raw)); err != nil {
		return err
	}
	treeSHA, err := idx.WriteTree()
	if err != nil {
		return err
	}
	var parents []string
	if tip != "" {
		parents = []string{tip}
	}
	commitSHA, err := gitutil.CommitTree(b.repoDir, treeSHA, parents, "update "+strings.TrimSuffix(b.path(ns), ".json"))
	if err != nil {
		return err
	}
	return gitutil.UpdateRefCAS(b.repoDir, b.ref, commitSHA, tip)
}
