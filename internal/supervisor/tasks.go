package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/patch"
	"github.com/canburaks/arch/internal/specialist"
	"github.com/canburaks/arch/internal/state"
)

func (s *Supervisor) metrics() (model.MetricsData, error) {
	return state.GetData(s.Store, state.NSMetrics, model.MetricsData{})
}

func (s *Supervisor) updateMetrics(fn func(*model.MetricsData)) error {
	_, err := state.Update(s.Store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		fn(&m)
		return m, nil
	})
	return err
}

func (s *Supervisor) updateTaskQueue(fn func([]model.WorkTask) []model.WorkTask) error {
	_, err := state.Update(s.Store, state.NSTasks, model.TasksData{}, func(d model.TasksData) (model.TasksData, error) {
		d.TaskQueue = fn(d.TaskQueue)
		return d, nil
	})
	return err
}

func (s *Supervisor) markTaskInProgress(taskID string, attempt int) error {
	now := time.Now().UTC()
	return s.updateTaskQueue(func(tasks []model.WorkTask) []model.WorkTask {
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i].Status = model.TaskInProgress
				tasks[i].Attempt = attempt
				if tasks[i].StartedAt == nil {
					tasks[i].StartedAt = &now
				}
			}
		}
		return tasks
	})
}

func (s *Supervisor) completeTask(taskID, outputSummary string) error {
	now := time.Now().UTC()
	summary := outputSummary
	if len(summary) > model.MaxDecisionLen {
		summary = summary[:model.MaxDecisionLen]
	}
	return s.updateTaskQueue(func(tasks []model.WorkTask) []model.WorkTask {
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i].Status = model.TaskCompleted
				tasks[i].CompletedAt = &now
				tasks[i].OutputSummary = summary
			}
		}
		return tasks
	})
}

// finalFailError signals mainLoop that task taskID exhausted its attempts
// and the whole run must finalize as failed (spec.md §4.5 step g).
type finalFailError struct {
	taskID string
	reason string
}

func (e *finalFailError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.taskID, e.reason)
}

func (s *Supervisor) failTask(taskID, reason string) error {
	if err := s.updateTaskQueue(func(tasks []model.WorkTask) []model.WorkTask {
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i].Status = model.TaskFailed
				tasks[i].FailureReason = reason
			}
		}
		return tasks
	}); err != nil {
		return err
	}
	return &finalFailError{taskID: taskID, reason: reason}
}

func (s *Supervisor) recordGateResult(gate model.QualityGateResult) error {
	return s.updateMetrics(func(m *model.MetricsData) {
		m.QualityGates = append(m.QualityGates, gate)
		if len(m.QualityGates) > model.MaxQualityGates {
			m.QualityGates = m.QualityGates[len(m.QualityGates)-model.MaxQualityGates:]
		}
		if !gate.Passed {
			m.GateFailures = append(m.GateFailures, gate)
			if len(m.GateFailures) > model.MaxGateFailures {
				m.GateFailures = m.GateFailures[len(m.GateFailures)-model.MaxGateFailures:]
			}
		}
	})
}

func (s *Supervisor) advancePhase(taskType model.TaskType) error {
	phase := model.PhaseImplementation
	switch taskType {
	case model.TaskPlan:
		phase = model.PhasePlanning
	case model.TaskReview:
		phase = model.PhaseReview
	case model.TaskDocument:
		phase = model.PhaseDocumentation
	}
	_, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Phase = phase
		return c, nil
	})
	return err
}

func (s *Supervisor) sleepBackoff(ctx context.Context, attempt int) {
	backoff := s.Config.Workflow.TaskRetryBackoffSeconds * math.Pow(2, float64(attempt-1))
	if backoff <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(backoff * float64(time.Second))):
	case <-ctx.Done():
	}
}

func (s *Supervisor) writeArtifact(runID, taskID, content string) error {
	dir := filepath.Join(s.RunsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, taskID+".md"), []byte(content), 0o644)
}

func (s *Supervisor) specialistFor(role model.SpecialistRole) *specialist.Specialist {
	switch role {
	case model.RolePlanner:
		return s.Specialists.Planner
	case model.RoleCoder:
		return s.Specialists.Coder
	case model.RoleTester:
		return s.Specialists.Tester
	case model.RoleCritic:
		return s.Specialists.Critic
	case model.RoleDocumenter:
		return s.Specialists.Documenter
	case model.RoleSupervisor:
		return s.Specialists.Supervisor
	default:
		return nil
	}
}

type specialistContext struct {
	Goal             string         `json:"goal"`
	Task             model.WorkTask `json:"task"`
	WorkingDirectory string         `json:"_working_directory,omitempty"`
}

// contextFor builds the specialist interface's context object (spec.md §6).
func (s *Supervisor) contextFor(goal string, task model.WorkTask) string {
	b, _ := json.Marshal(specialistContext{Goal: goal, Task: task, WorkingDirectory: s.RepoDir})
	return string(b)
}

// gateNameFor maps a task type to its quality gate name (spec.md §4.5.1).
func gateNameFor(t model.TaskType) string {
	switch t {
	case model.TaskPlan:
		return "planning_gate"
	case model.TaskImplement:
		return "implementation_gate"
	case model.TaskTest:
		return "testing_gate"
	case model.TaskReview:
		return "review_gate"
	case model.TaskDocument:
		return "documentation_gate"
	default:
		return "unknown_gate"
	}
}

// createPatchForTask stages and commits the worktree for an implement/document
// task (spec.md §4.5 step e). A guardrail rejection is returned as-is so the
// caller can fold it into a failed gate rather than aborting the run.
func (s *Supervisor) createPatchForTask(task model.WorkTask, content string) (*model.PatchRef, error) {
	rc, err := s.context()
	if err != nil {
		return nil, err
	}

	fbMode := patch.FallbackTracked
	if s.Config.Workflow.FallbackArtifactMode == config.FallbackModeLocalOnly {
		fbMode = patch.FallbackLocalOnly
	}
	fallbackFile := filepath.Join(s.Config.Workflow.TrackedFallbackDir, task.ID+".md")

	ref, err := s.Patches.CreateTaskPatchFromWorktree(patch.CreateOptions{
		Subject:         fmt.Sprintf("%s: %s", task.Type, task.ID),
		Body:            content,
		TaskID:          task.ID,
		RunID:           rc.CurrentRunID,
		ExcludePaths:    rc.DirtyWorktree.IsolatedPaths,
		MaxFiles:        s.Config.Guardrails.MaxFileChangesPerPatch,
		ForbiddenPaths:  s.Config.Guardrails.ForbiddenPaths,
		FallbackMode:    fbMode,
		FallbackFile:    fallbackFile,
		FallbackContent: content,
	})
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}

	if _, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Session.PatchStack = append(c.Session.PatchStack, model.PatchRefLite{
			PatchID: ref.PatchID, CommitSHA: ref.CommitHash, TaskID: task.ID,
		})
		return c, nil
	}); err != nil {
		return nil, err
	}
	return ref, nil
}

// runFilesChanged aggregates the files touched by every patch committed so
// far this run, used by the review and documentation gates.
func (s *Supervisor) runFilesChanged() []string {
	rc, err := s.context()
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, pr := range rc.Session.PatchStack {
		if pr.CommitSHA == "" {
			continue
		}
		files, err := gitutil.CommitFiles(s.RepoDir, pr.CommitSHA)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func (s *Supervisor) sourceTouchedThisRun() bool {
	for _, f := range s.runFilesChanged() {
		if !isTestPath(f) && !isDocPath(f) {
			return true
		}
	}
	return false
}

// evaluateGateFor dispatches to the gate matching task.Type (spec.md §4.5.1).
func (s *Supervisor) evaluateGateFor(ctx context.Context, task model.WorkTask, output string, filesChanged []string) (model.QualityGateResult, error) {
	switch task.Type {
	case model.TaskPlan:
		steps := extractPlanSteps(output)
		var criticCounts *reviewCounts
		if s.Config.Workflow.PlanRequiresCritic && s.Specialists.Critic != nil {
			critRes, err := s.Specialists.Critic.Run(ctx, "Review this plan for blocking issues.", output, nil)
			if err != nil {
				return model.QualityGateResult{}, err
			}
			_ = s.recordDecision("plan_critic_review", string(model.RoleCritic), critRes.Content, "", task.ID)
			c := parseReview(critRes.Content)
			criticCounts = &c
		}
		return planningGate(task.ID, output, steps, criticCounts), nil

	case model.TaskImplement:
		var lintRes, tcRes *CommandResult
		if s.Config.Workflow.AutoLint && s.Config.Project.LintCommand != "" {
			r, err := runCommand(ctx, s.RepoDir, s.Config.Project.LintCommand)
			if err != nil {
				return model.QualityGateResult{}, err
			}
			lintRes = &r
		}
		if s.Config.Project.TypeCheckCommand != "" {
			r, err := runCommand(ctx, s.RepoDir, s.Config.Project.TypeCheckCommand)
			if err != nil {
				return model.QualityGateResult{}, err
			}
			tcRes = &r
		}
		return implementationGate(task.ID, output, filesChanged, lintRes, tcRes, s.Config.Workflow, s.Config.Guardrails), nil

	case model.TaskTest:
		var testRes *CommandResult
		if s.Config.Workflow.AutoTest && s.Config.Project.TestCommand != "" {
			r, err := runCommand(ctx, s.RepoDir, s.Config.Project.TestCommand)
			if err != nil {
				return model.QualityGateResult{}, err
			}
			testRes = &r
		}
		return testingGate(task.ID, testRes, s.Config.Workflow), nil

	case model.TaskReview:
		return reviewGate(task.ID, output, s.runFilesChanged(), s.Config.Workflow, s.Config.Guardrails), nil

	case model.TaskDocument:
		return documentationGate(task.ID, output, s.sourceTouchedThisRun()), nil

	default:
		return model.QualityGateResult{}, fmt.Errorf("unknown task type %q", task.Type)
	}
}

// loadPendingModifyTasks scans the task queue for carried-over "modify this
// patch" tasks (ids "task-modify-*") left pending, in progress, or failed
// from a prior run, resets each to pending with no start/completion/failure
// state, reassigns it to the coder against planTaskID, and returns them for
// prepending into the new graph. Completed or skipped modify tasks are left
// alone: they are already resolved and must not be replayed.
func loadPendingModifyTasks(queue []model.WorkTask, planTaskID string) []model.WorkTask {
	var pending []model.WorkTask
	for _, t := range queue {
		if !strings.HasPrefix(t.ID, "task-modify-") {
			continue
		}
		switch t.Status {
		case model.TaskPending, model.TaskInProgress, model.TaskFailed:
		default:
			continue
		}
		t.Status = model.TaskPending
		t.StartedAt = nil
		t.CompletedAt = nil
		t.FailureReason = ""
		t.DependsOn = []string{planTaskID}
		t.AssignedTo = model.RoleCoder
		pending = append(pending, t)
	}
	return pending
}

// maybeExpandGraph expands the single seed plan task into the full graph
// once the plan task's output is available (spec.md §4.5 step d).
func (s *Supervisor) maybeExpandGraph(planTaskID, planOutput string) error {
	steps := extractPlanSteps(planOutput)
	if len(steps) == 0 {
		dd, err := state.GetData(s.Store, state.NSDecisions, model.DecisionsData{})
		if err != nil {
			return err
		}
		for _, dec := range dd.Decisions {
			if dec.Topic == "supervisor_decomposition" {
				steps = extractPlanSteps(dec.Decision)
			}
		}
	}
	_, err := state.Update(s.Store, state.NSTasks, model.TasksData{}, func(d model.TasksData) (model.TasksData, error) {
		var plan *model.WorkTask
		for i := range d.TaskQueue {
			t := &d.TaskQueue[i]
			if t.ID == planTaskID {
				plan = t
				continue
			}
			if !strings.HasPrefix(t.ID, "task-modify-") {
				return d, nil // already expanded (e.g. resumed mid-run)
			}
		}
		if plan == nil {
			return d, nil
		}
		pendingModify := loadPendingModifyTasks(d.TaskQueue, planTaskID)
		d.TaskQueue = append([]model.WorkTask{*plan}, buildTaskGraph(steps, pendingModify, s.Config.Workflow, planTaskID)...)
		return d, nil
	})
	return err
}

// runConflictCycle wraps runConflictResolution with the max_conflict_cycles
// budget (spec.md §4.5.2).
func (s *Supervisor) runConflictCycle(ctx context.Context, reviewTaskID, reviewOutput string) error {
	m, err := s.metrics()
	if err != nil {
		return err
	}
	if m.ConflictResolutionRuns >= s.Config.Workflow.MaxConflictCycles {
		return nil
	}
	if _, err := s.runConflictResolution(ctx, reviewTaskID, reviewOutput); err != nil {
		return err
	}
	return s.updateMetrics(func(m *model.MetricsData) { m.ConflictResolutionRuns++ })
}
