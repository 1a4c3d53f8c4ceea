package patch

import (
	"fmt"
	"time"

	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// UpdatePatchStatus mutates patch_lifecycle and the corresponding
// patch_stack entry for commitHash.
func (s *Stack) UpdatePatchStatus(commitHash string, status model.PatchStatus, note string) error {
	_, err := state.Update(s.store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		if m.PatchLifecycle == nil {
			m.PatchLifecycle = map[string]model.PatchStatus{}
		}
		m.PatchLifecycle[commitHash] = status
		now := time.Now().UTC()
		for i := range m.PatchStack {
			if m.PatchStack[i].CommitHash == commitHash {
				m.PatchStack[i].Status = status
				m.PatchStack[i].UpdatedAt = &now
				if note != "" {
					m.PatchStack[i].StatusNote = note
				}
			}
		}
		return m, nil
	})
	return err
}

// RejectPatch performs a non-destructive revert-style commit that undoes the
// target commit, and marks the original rejected. On conflict the prior HEAD
// is restored and the original's status is left unchanged (spec.md §4.2,
// invariant #4 in §8).
func (s *Stack) RejectPatch(ref string) (*Patch, error) {
	if err := s.requireVCS("RejectPatch"); err != nil {
		return nil, err
	}
	p, err := s.ResolvePatch(ref)
	if err != nil {
		return nil, err
	}
	if p.CommitHash == "" {
		return nil, fmt.Errorf("patch %s has no commit to revert (local-only artifact)", p.PatchID)
	}

	preHead, err := gitutil.HeadSHA(s.repoDir)
	if err != nil {
		return nil, err
	}

	if _, err := gitutil.Revert(s.repoDir, p.CommitHash); err != nil {
		// Leave history exactly as it was before the attempt.
		_ = gitutil.ResetHard(s.repoDir, preHead)
		return nil, fmt.Errorf("reject patch %s: revert conflict: %w", p.PatchID, err)
	}

	if err := s.UpdatePatchStatus(p.CommitHash, model.PatchRejected, "reverted"); err != nil {
		return nil, err
	}
	p.Status = model.PatchRejected
	return p, nil
}
