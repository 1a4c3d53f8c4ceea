package supervisor

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// internalPathPrefixes are excluded from the dirty-worktree check: they are
// the core's own bookkeeping, not user changes (spec.md §4.5.1 "Internal
// runtime paths").
var internalPathPrefixes = []string{".state/", ".architect/"}

func isInternalPath(p string) bool {
	for _, prefix := range internalPathPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// applyWorktreeDiscipline reads VCS status minus the core's own artifacts
// and, per workflow.dirty_worktree_mode, either refuses to run or records
// the dirty paths for later exclusion from patch staging (spec.md §4.5 step 2).
func (s *Supervisor) applyWorktreeDiscipline() (model.DirtyWorktreeState, error) {
	mode := s.Config.Workflow.DirtyWorktreeMode
	ds := model.DirtyWorktreeState{Mode: model.DirtyWorktreeMode(mode)}

	if !s.Patches.HasVCS() {
		return ds, nil
	}

	paths, err := gitutil.StatusPaths(s.RepoDir)
	if err != nil {
		return ds, err
	}
	var dirty []string
	for _, p := range paths {
		if !isInternalPath(p) {
			dirty = append(dirty, p)
		}
	}
	if len(dirty) == 0 {
		return ds, nil
	}

	switch mode {
	case "isolate":
		ds.IsolatedPaths = dirty
		if err := s.recordDirtyIsolation(dirty); err != nil {
			return ds, err
		}
		return ds, nil
	default: // refuse
		return ds, fmt.Errorf("run refused: worktree is dirty: %s", strings.Join(dirty, ", "))
	}
}

func (s *Supervisor) recordDirtyIsolation(paths []string) error {
	runID := ""
	if rc, err := s.context(); err == nil {
		runID = rc.CurrentRunID
	}
	_, err := state.Update(s.Store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		m.DirtyWorktreeIsolation = append(m.DirtyWorktreeIsolation, model.DirtyWorktreeIsolationEntry{
			RunID: runID, Paths: paths, At: time.Now().UTC(),
		})
		if len(m.DirtyWorktreeIsolation) > model.MaxDirtyWorktreeIsolated {
			m.DirtyWorktreeIsolation = m.DirtyWorktreeIsolation[len(m.DirtyWorktreeIsolation)-model.MaxDirtyWorktreeIsolated:]
		}
		return m, nil
	})
	return err
}

// runPreflight probes configured backends for availability and the gate
// commands for an executable (spec.md §4.5 step 3). A missing required
// executable is fatal; identical primary/fallback names are a warning only.
func (s *Supervisor) runPreflight() model.PreflightReport {
	report := model.PreflightReport{CheckedAt: time.Now().UTC(), OK: true}

	if s.Backend != nil && s.Backend.Primary != nil && s.Backend.Fallback != nil &&
		s.Backend.Primary.Name() == s.Backend.Fallback.Name() {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("primary and fallback backend %q are identical: failover is disabled", s.Backend.Primary.Name()))
	}

	if s.Backend != nil {
		if err := probeBackend(s.Backend.Primary); err != nil {
			report.OK = false
			report.Errors = append(report.Errors, fmt.Sprintf("primary backend unavailable: %v", err))
		}
		if s.Backend.Fallback != nil && s.Backend.Fallback.Name() != s.Backend.Primary.Name() {
			if err := probeBackend(s.Backend.Fallback); err != nil {
				report.OK = false
				report.Errors = append(report.Errors, fmt.Sprintf("fallback backend unavailable: %v", err))
			}
		}
	}

	for label, cmd := range map[string]string{
		"lint_command":       s.Config.Project.LintCommand,
		"type_check_command": s.Config.Project.TypeCheckCommand,
		"test_command":       s.Config.Project.TestCommand,
	} {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		if err := probeExecutable(cmd); err != nil {
			report.OK = false
			report.Errors = append(report.Errors, fmt.Sprintf("%s executable not found: %v", label, err))
		}
	}

	return report
}

// binaryPather is implemented by dispatcher.CLIClient; other AgentClient
// implementations are assumed reachable and skip the executable check.
type binaryPather interface {
	BinaryPath() string
}

func probeBackend(client interface{ Name() string }) error {
	if client == nil {
		return fmt.Errorf("not configured")
	}
	bp, ok := client.(binaryPather)
	if !ok {
		return nil
	}
	return probeExecutable(bp.BinaryPath())
}

func probeExecutable(cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	name := fields[0]
	if filepath.IsAbs(name) || strings.Contains(name, string(filepath.Separator)) {
		if _, err := exec.LookPath(name); err != nil {
			return err
		}
		return nil
	}
	_, err := exec.LookPath(name)
	return err
}

// recordPreflight writes report into context.preflight and appends it
// (bounded) to metrics.preflight_history.
func (s *Supervisor) recordPreflight(report model.PreflightReport) error {
	if _, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Preflight = report
		return c, nil
	}); err != nil {
		return err
	}
	runID := ""
	if rc, err := s.context(); err == nil {
		runID = rc.CurrentRunID
	}
	_, err := state.Update(s.Store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		m.PreflightHistory = append(m.PreflightHistory, model.PreflightHistoryEntry{PreflightReport: report, RunID: runID})
		if len(m.PreflightHistory) > model.MaxPreflightHistory {
			m.PreflightHistory = m.PreflightHistory[len(m.PreflightHistory)-model.MaxPreflightHistory:]
		}
		return m, nil
	})
	return err
}
