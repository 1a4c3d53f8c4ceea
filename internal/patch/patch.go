// Package patch implements the PatchStack described in spec.md §4.2: turning
// worktree changes into atomic, traceable commits attached to a (task_id,
// run_id) pair, with enumeration, resolution, lifecycle, non-destructive
// rejection, checkpoints, and safe rollback.
package patch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// Stack is the PatchStack: a thin layer over gitutil that records every
// commit it makes into the StateStore's metrics namespace.
type Stack struct {
	repoDir string
	store   *state.Store
}

// New returns a Stack operating on the git repository at repoDir, recording
// bookkeeping into store.
func New(repoDir string, store *state.Store) *Stack {
	return &Stack{repoDir: repoDir, store: store}
}

// HasVCS reports whether repoDir is a usable git working tree.
func (s *Stack) HasVCS() bool { return gitutil.IsRepo(s.repoDir) }

func (s *Stack) requireVCS(op string) error {
	if !s.HasVCS() {
		return coreerr.VCSUnavailable(op + " requires a VCS-backed repository")
	}
	return nil
}

// CurrentBranch returns the checked-out branch name.
func (s *Stack) CurrentBranch() (string, error) {
	if err := s.requireVCS("CurrentBranch"); err != nil {
		return "", err
	}
	return gitutil.CurrentBranch(s.repoDir)
}

// PatchIDFor formats the stable patch id for a commit hash: invariant #1 in
// spec.md §8 — "patch-" + first 8 hex chars, identical across every listing.
func PatchIDFor(commitHash string) string {
	return "patch-" + gitutil.ShortSHA(commitHash, 8)
}

// Patch is the enriched view returned by ListPatches/ResolvePatch.
type Patch struct {
	PatchID      string
	CommitHash   string
	Subject      string
	Status       model.PatchStatus
	TaskID       string
	RunID        string
	FilesChanged []string
	CheckpointID string
}

func (s *Stack) metrics() (model.MetricsData, error) {
	return state.GetData(s.store, state.NSMetrics, model.MetricsData{})
}

// ListPatches reads the commit log from baseRef..HEAD (or just HEAD if
// baseRef is empty), enriches each commit with its patch id, lifecycle
// status, task id, and changed files, and backfills any missing rows in
// patch_index/patch_lifecycle/patch_stack.
func (s *Stack) ListPatches(baseRef string) ([]Patch, error) {
	if err := s.requireVCS("ListPatches"); err != nil {
		return nil, err
	}
	entries, err := gitutil.Log(s.repoDir, baseRef)
	if err != nil {
		return nil, err
	}

	metrics, err := s.metrics()
	if err != nil {
		return nil, err
	}
	backfillIndex := map[string]string{}
	backfillLifecycle := map[string]model.PatchStatus{}
	stackByHash := map[string]model.PatchRef{}
	for _, ref := range metrics.PatchStack {
		stackByHash[ref.CommitHash] = ref
	}

	out := make([]Patch, 0, len(entries))
	var newStackEntries []model.PatchRef
	for _, e := range entries {
		id := PatchIDFor(e.SHA)
		status := model.PatchPending
		if existing, ok := metrics.PatchLifecycle[e.SHA]; ok {
			status = existing
		} else {
			backfillLifecycle[e.SHA] = status
		}
		if _, ok := metrics.PatchIndex[e.SHA]; !ok {
			backfillIndex[e.SHA] = id
		}
		taskID := ""
		checkpointID := ""
		if ref, ok := stackByHash[e.SHA]; ok {
			taskID = ref.TaskID
			checkpointID = ref.CheckpointID
		} else {
			newStackEntries = append(newStackEntries, model.PatchRef{
				PatchID: id, CommitHash: e.SHA, Subject: e.Subject,
				Status: status, CreatedAt: time.Now().UTC(),
			})
		}
		files, err := gitutil.CommitFiles(s.repoDir, e.SHA)
		if err != nil {
			return nil, err
		}
		out = append(out, Patch{
			PatchID: id, CommitHash: e.SHA, Subject: e.Subject,
			Status: status, TaskID: taskID, FilesChanged: files, CheckpointID: checkpointID,
		})
	}

	if len(backfillIndex) > 0 || len(backfillLifecycle) > 0 || len(newStackEntries) > 0 {
		if _, err := state.Update(s.store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
			if m.PatchIndex == nil {
				m.PatchIndex = map[string]string{}
			}
			if m.PatchLifecycle == nil {
				m.PatchLifecycle = map[string]model.PatchStatus{}
			}
			for k, v := range backfillIndex {
				if _, exists := m.PatchIndex[k]; !exists {
					m.PatchIndex[k] = v
				}
			}
			for k, v := range backfillLifecycle {
				if _, exists := m.PatchLifecycle[k]; !exists {
					m.PatchLifecycle[k] = v
				}
			}
			have := map[string]bool{}
			for _, r := range m.PatchStack {
				have[r.CommitHash] = true
			}
			for _, r := range newStackEntries {
				if !have[r.CommitHash] {
					m.PatchStack = append(m.PatchStack, r)
				}
			}
			return m, nil
		}); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ResolvePatch resolves ref against the current listing in resolution order:
// exact patch_id, commit-hash prefix, patch_id prefix, legacy "patch-NNN"
// 1-based positional index.
func (s *Stack) ResolvePatch(ref string) (*Patch, error) {
	ref = strings.TrimSpace(ref)
	patches, err := s.ListPatches("")
	if err != nil {
		return nil, err
	}
	for i := range patches {
		if patches[i].PatchID == ref {
			return &patches[i], nil
		}
	}
	for i := range patches {
		if strings.HasPrefix(patches[i].CommitHash, ref) {
			return &patches[i], nil
		}
	}
	for i := range patches {
		if strings.HasPrefix(patches[i].PatchID, ref) {
			return &patches[i], nil
		}
	}
	if strings.HasPrefix(ref, "patch-") {
		if n, err := strconv.Atoi(strings.TrimPrefix(ref, "patch-")); err == nil && n >= 1 && n <= len(patches) {
			return &patches[n-1], nil
		}
	}
	return nil, fmt.Errorf("patch not found: %s", ref)
}
