package patch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

var checkpointSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func sanitizeCheckpointName(name string) string {
	s := checkpointSanitizeRe.ReplaceAllString(strings.TrimSpace(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "checkpoint"
	}
	return s
}

// CreateCheckpoint records a VCS tag "architect/<sanitized>-<utc-timestamp>"
// when VCS is available, otherwise appends to the local checkpoints list
// (spec.md §4.2).
func (s *Stack) CreateCheckpoint(name, goal, runID string) (*model.Checkpoint, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	id := fmt.Sprintf("architect/%s-%s", sanitizeCheckpointName(name), stamp)

	cp := model.Checkpoint{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Goal:      goal,
		RunID:     runID,
	}
	if branch, err := s.CurrentBranch(); err == nil {
		cp.ActiveBranch = branch
	}

	if s.HasVCS() {
		if err := gitutil.Tag(s.repoDir, id); err != nil {
			return nil, err
		}
	}

	if _, err := state.Update(s.store, state.NSCheckpoints, model.CheckpointsData{}, func(d model.CheckpointsData) (model.CheckpointsData, error) {
		d.Checkpoints = append(d.Checkpoints, cp)
		return d, nil
	}); err != nil {
		return nil, err
	}
	return &cp, nil
}

// CreateFailureCheckpoint records a checkpoint carrying the failing task id
// and reason, used by the Supervisor's final-fail path.
func (s *Stack) CreateFailureCheckpoint(name, goal, runID, failureTaskID, failureReason string) (*model.Checkpoint, error) {
	cp, err := s.CreateCheckpoint(name, goal, runID)
	if err != nil {
		return nil, err
	}
	cp.FailureTaskID = failureTaskID
	cp.FailureReason = failureReason
	if _, err := state.Update(s.store, state.NSCheckpoints, model.CheckpointsData{}, func(d model.CheckpointsData) (model.CheckpointsData, error) {
		for i := range d.Checkpoints {
			if d.Checkpoints[i].ID == cp.ID {
				d.Checkpoints[i].FailureTaskID = failureTaskID
				d.Checkpoints[i].FailureReason = failureReason
			}
		}
		return d, nil
	}); err != nil {
		return nil, err
	}
	return cp, nil
}

// ListCheckpoints returns every recorded checkpoint, oldest first.
func (s *Stack) ListCheckpoints() ([]model.Checkpoint, error) {
	data, err := state.GetData(s.store, state.NSCheckpoints, model.CheckpointsData{})
	if err != nil {
		return nil, err
	}
	out := append([]model.Checkpoint(nil), data.Checkpoints...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Rollback creates and switches to a new safety branch
// "architect/rollback-<timestamp>" pointing at the checkpoint, and never
// hard-resets the caller's prior branch (spec.md §4.2, invariant #5 in §8).
func (s *Stack) Rollback(checkpointID string) (string, error) {
	if err := s.requireVCS("Rollback"); err != nil {
		return "", err
	}
	sha, err := gitutil.TagSHA(s.repoDir, checkpointID)
	if err != nil {
		return "", fmt.Errorf("rollback: resolve checkpoint %s: %w", checkpointID, err)
	}
	branch := fmt.Sprintf("architect/rollback-%s", time.Now().UTC().Format("20060102T150405Z"))
	if err := gitutil.CreateBranchAt(s.repoDir, branch, sha); err != nil {
		return "", err
	}
	if err := gitutil.Switch(s.repoDir, branch); err != nil {
		return "", err
	}
	return branch, nil
}
