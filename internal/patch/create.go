package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// FallbackMode selects what happens when a task produces no worktree change.
type FallbackMode string

const (
	FallbackTracked  FallbackMode = "tracked"
	FallbackLocalOnly FallbackMode = "local_only"
)

// CreateOptions configures CreateTaskPatchFromWorktree.
type CreateOptions struct {
	Subject  string
	Body     string
	TaskID   string
	RunID    string

	// ExcludePaths are re-stashed as dirty before staging (isolated
	// pre-existing dirty paths, per the dirty-worktree isolation mode).
	ExcludePaths []string

	MaxFiles       int
	ForbiddenPaths []string

	FallbackMode    FallbackMode
	FallbackFile    string
	FallbackContent string
}

// matchesAny reports whether path matches any of the doublestar glob
// patterns in patterns (the forbidden_paths guardrail uses this).
func matchesAny(patterns []string, path string) (string, bool) {
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if ok, _ := doublestar.Match(pat, path); ok {
			return pat, true
		}
		// Also match basename-only patterns against the final path segment,
		// so a bare "*.env" guardrail catches nested files too.
		if ok, _ := doublestar.Match(pat, filepath.Base(path)); ok {
			return pat, true
		}
	}
	return "", false
}

// CreateTaskPatchFromWorktree stages the current worktree (minus
// ExcludePaths, which are re-stashed as dirty), enforces guardrails before
// committing, creates a single commit, and records the patch (spec.md §4.2).
// A guardrail failure leaves the working tree exactly as it was.
func (s *Stack) CreateTaskPatchFromWorktree(opts CreateOptions) (*model.PatchRef, error) {
	if err := s.requireVCS("CreateTaskPatchFromWorktree"); err != nil {
		return nil, err
	}

	preHead, err := headOrEmpty(s)
	if err != nil {
		return nil, err
	}

	restoreDirty, err := s.isolateExcludedPaths(opts.ExcludePaths)
	if err != nil {
		return nil, err
	}
	defer restoreDirty()

	if err := s.stageAll(); err != nil {
		return nil, err
	}

	staged, err := s.stagedFiles()
	if err != nil {
		_ = s.unstageAll()
		return nil, err
	}

	if len(staged) > 0 {
		if violation, path, ok := s.checkGuardrails(staged, opts); ok {
			_ = s.unstageAll()
			return nil, coreerr.Guardrail(fmt.Sprintf("guardrail violation: path %q matches forbidden pattern %q", path, violation))
		}
	}

	if len(staged) == 0 {
		return s.handleEmptyDiff(opts, preHead)
	}

	commitSHA, err := s.commitStaged(opts.Subject, opts.Body)
	if err != nil {
		return nil, err
	}
	return s.recordPatch(commitSHA, opts.Subject, opts.TaskID, opts.RunID, staged, "")
}

func (s *Stack) checkGuardrails(staged []string, opts CreateOptions) (pattern, path string, violated bool) {
	if opts.MaxFiles > 0 && len(staged) > opts.MaxFiles {
		return fmt.Sprintf("max_file_changes_per_patch=%d", opts.MaxFiles), fmt.Sprintf("%d files staged", len(staged)), true
	}
	for _, p := range staged {
		if pat, ok := matchesAny(opts.ForbiddenPaths, p); ok {
			return pat, p, true
		}
	}
	return "", "", false
}

func (s *Stack) handleEmptyDiff(opts CreateOptions, preHead string) (*model.PatchRef, error) {
	switch opts.FallbackMode {
	case FallbackLocalOnly:
		return s.RecordLocalPatch(opts.TaskID, opts.RunID, opts.FallbackFile, opts.FallbackContent)
	case FallbackTracked:
		fallthrough
	default:
		if strings.TrimSpace(opts.FallbackFile) == "" {
			return nil, fmt.Errorf("fallback_file is required when the worktree has no changes")
		}
		if err := os.MkdirAll(filepath.Dir(filepath.Join(s.repoDir, opts.FallbackFile)), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(s.repoDir, opts.FallbackFile), []byte(opts.FallbackContent), 0o644); err != nil {
			return nil, err
		}
		if err := s.stageAll(); err != nil {
			return nil, err
		}
		staged, err := s.stagedFiles()
		if err != nil {
			return nil, err
		}
		commitSHA, err := s.commitStaged(opts.Subject, opts.Body)
		if err != nil {
			return nil, err
		}
		_ = preHead
		return s.recordPatch(commitSHA, opts.Subject, opts.TaskID, opts.RunID, staged, "")
	}
}

// RecordLocalPatch performs local-only bookkeeping when VCS is unavailable
// or the fallback policy is local_only: no commit is made, but a PatchRef is
// still recorded so every task yields a tracked-or-recorded patch.
func (s *Stack) RecordLocalPatch(taskID, runID, fallbackFile, fallbackContent string) (*model.PatchRef, error) {
	syntheticID := fmt.Sprintf("local-%d", time.Now().UTC().UnixNano())
	ref := model.PatchRef{
		PatchID:      "patch-" + syntheticID[len(syntheticID)-8:],
		CommitHash:   "",
		Subject:      "local artifact: " + fallbackFile,
		Status:       model.PatchPending,
		TaskID:       taskID,
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		FilesChanged: []string{fallbackFile},
		StatusNote:   "local_only fallback artifact (no VCS commit)",
	}
	if _, err := state.Update(s.store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		m.PatchStack = append(m.PatchStack, ref)
		return m, nil
	}); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *Stack) recordPatch(commitSHA, subject, taskID, runID string, files []string, checkpointID string) (*model.PatchRef, error) {
	ref := model.PatchRef{
		PatchID:      PatchIDFor(commitSHA),
		CommitHash:   commitSHA,
		Subject:      subject,
		Status:       model.PatchPending,
		TaskID:       taskID,
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		FilesChanged: files,
		CheckpointID: checkpointID,
	}
	if _, err := state.Update(s.store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		if m.PatchIndex == nil {
			m.PatchIndex = map[string]string{}
		}
		if m.PatchLifecycle == nil {
			m.PatchLifecycle = map[string]model.PatchStatus{}
		}
		m.PatchIndex[commitSHA] = ref.PatchID
		m.PatchLifecycle[commitSHA] = ref.Status
		m.PatchStack = append(m.PatchStack, ref)
		return m, nil
	}); err != nil {
		return nil, err
	}
	return &ref, nil
}
