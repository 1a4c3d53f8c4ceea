// Package supervisor implements the Supervisor described in spec.md §4.5:
// run lifecycle, worktree discipline, preflight, lease acquisition, task
// graph construction and scheduling, quality gates, conflict resolution, and
// command execution.
package supervisor

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/dispatcher"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/patch"
	"github.com/canburaks/arch/internal/specialist"
	"github.com/canburaks/arch/internal/state"
)

// Specialists bundles the six fixed-role specialists the Supervisor
// dispatches to. Critic and the supervisor-decomposition specialist are
// optional (spec.md §4.5 steps 6 and §4.5.1/§4.5.2 treat missing ones as
// skippable).
type Specialists struct {
	Planner    *specialist.Specialist
	Coder      *specialist.Specialist
	Tester     *specialist.Specialist
	Critic     *specialist.Specialist
	Documenter *specialist.Specialist
	Supervisor *specialist.Specialist // optional decomposition hint source
}

// Supervisor drives one orchestration run against a repository.
type Supervisor struct {
	RepoDir     string
	RunsDir     string
	Store       *state.Store
	Patches     *patch.Stack
	Config      *config.RunConfig
	Specialists Specialists
	Backend     *dispatcher.ResilientBackend
}

// New constructs a Supervisor. runsDir defaults to "<repoDir>/runs" when empty.
func New(repoDir, runsDir string, store *state.Store, patches *patch.Stack, cfg *config.RunConfig, sp Specialists, backend *dispatcher.ResilientBackend) *Supervisor {
	if runsDir == "" {
		runsDir = filepath.Join(repoDir, "runs")
	}
	return &Supervisor{
		RepoDir: repoDir, RunsDir: runsDir, Store: store, Patches: patches,
		Config: cfg, Specialists: sp, Backend: backend,
	}
}

func (s *Supervisor) context() (model.RunContext, error) {
	return state.GetData(s.Store, state.NSContext, model.RunContext{})
}

func (s *Supervisor) updateContext(fn func(model.RunContext) (model.RunContext, error)) (model.RunContext, error) {
	return state.Update(s.Store, state.NSContext, model.RunContext{}, fn)
}

// newRunID mints "run-<utc-stamp>-<8 hex>" (spec.md §4.5 step 4).
func newRunID() string {
	id := ulid.Make()
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return fmt.Sprintf("run-%s-%s", stamp, hex.EncodeToString(id[len(id)-4:]))
}

// Run executes the full run lifecycle described in spec.md §4.5.
func (s *Supervisor) Run(ctx context.Context, goal string, resume bool) (model.RunSummary, error) {
	rc, err := s.context()
	if err != nil {
		return model.RunSummary{}, err
	}
	if rc.Paused && !resume {
		return model.RunSummary{}, fmt.Errorf("run refused: context is paused; resume=true required")
	}

	dirty, err := s.applyWorktreeDiscipline()
	if err != nil {
		return model.RunSummary{}, err
	}

	preflight := s.runPreflight()
	if !preflight.OK {
		return model.RunSummary{}, fmt.Errorf("preflight failed: %s", strings.Join(preflight.Errors, "; "))
	}
	if err := s.recordPreflight(preflight); err != nil {
		return model.RunSummary{}, err
	}

	runID, baseBranch, activeBranch, tasks, resumed, err := s.resolveRunIdentity(ctx, rc, goal, resume)
	if err != nil {
		return model.RunSummary{}, err
	}

	if err := s.acquireLease(runID); err != nil {
		return model.RunSummary{}, err
	}

	if !resumed {
		if hint, err := s.maybeDecompose(ctx, goal); err == nil && hint != "" {
			_ = s.recordDecision("supervisor_decomposition", string(model.RoleSupervisor), hint, "", "")
		}
		tasks = []model.WorkTask{{
			ID: "task-plan-001", Type: model.TaskPlan, AssignedTo: model.RolePlanner,
			Description: goal, Status: model.TaskPending, CreatedAt: time.Now().UTC(),
		}}
	}

	started := time.Now().UTC()
	if err := state.Set(s.Store, state.NSTasks, model.TasksData{TaskQueue: tasks}, nil); err != nil {
		return model.RunSummary{}, err
	}

	if _, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Goal = goal
		c.Phase = model.PhasePlanning
		c.Status = model.StatusInProgress
		c.ActiveBranch = activeBranch
		c.Paused = false
		c.CurrentRunID = runID
		c.StartedAt = started
		c.EndedAt = nil
		c.Session.RunID = runID
		c.Session.Goal = goal
		c.Session.BaseBranch = baseBranch
		c.Session.ActiveBranch = activeBranch
		c.DirtyWorktree = dirty
		return c, nil
	}); err != nil {
		return model.RunSummary{}, err
	}

	if err := s.upsertRunRecord(runID, goal, baseBranch, activeBranch, model.StatusInProgress, started, nil, 0, 0, "", "", ""); err != nil {
		return model.RunSummary{}, err
	}

	summary, runErr := s.mainLoop(ctx, runID, goal, started)
	return summary, runErr
}

func (s *Supervisor) maybeDecompose(ctx context.Context, goal string) (string, error) {
	if s.Specialists.Supervisor == nil {
		return "", nil
	}
	res, err := s.Specialists.Supervisor.Run(ctx, "Propose a short list of implementation steps for this goal:\n"+goal, "", nil)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (s *Supervisor) recordDecision(topic, decidedBy, decision, rationale, taskID string) error {
	if len(decision) > model.MaxDecisionLen {
		decision = decision[:model.MaxDecisionLen]
	}
	evidence := decisionDigest(decision)
	_, err := state.Update(s.Store, state.NSDecisions, model.DecisionsData{}, func(d model.DecisionsData) (model.DecisionsData, error) {
		d.Decisions = append(d.Decisions, model.Decision{
			ID: fmt.Sprintf("decision-%d", len(d.Decisions)+1), Topic: topic, DecidedBy: decidedBy,
			ApprovedBy: "supervisor",
			Decision:   decision, Rationale: rationale, TaskID: taskID, CreatedAt: time.Now().UTC(),
			Evidence: []string{evidence},
		})
		return d, nil
	})
	return err
}

// decisionDigest fingerprints a decision's text so two decisions recording
// identical specialist output (e.g. a replayed retry) can be spotted without
// comparing the full text.
func decisionDigest(text string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(text))
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}
