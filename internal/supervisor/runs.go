package supervisor

import (
	"context"
	"time"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// resolveRunIdentity implements spec.md §4.5 step 4: on resume, reuse the
// context's current run if it still has pending or failed tasks (demoting
// any in_progress task back to pending); otherwise mint a new run id and,
// for the auxiliary_branches strategy, create and switch to its own branch.
func (s *Supervisor) resolveRunIdentity(ctx context.Context, rc model.RunContext, goal string, resume bool) (runID, baseBranch, activeBranch string, tasks []model.WorkTask, resumed bool, err error) {
	if resume && rc.CurrentRunID != "" {
		tasksData, gerr := state.GetData(s.Store, state.NSTasks, model.TasksData{})
		if gerr != nil {
			return "", "", "", nil, false, gerr
		}
		hasOpen := false
		demoted := make([]model.WorkTask, len(tasksData.TaskQueue))
		for i, t := range tasksData.TaskQueue {
			if t.Status == model.TaskInProgress {
				t.Status = model.TaskPending
			}
			if t.Status == model.TaskPending || t.Status == model.TaskFailed {
				hasOpen = true
			}
			demoted[i] = t
		}
		if hasOpen {
			return rc.CurrentRunID, rc.Session.BaseBranch, rc.Session.ActiveBranch, demoted, true, nil
		}
	}

	newID := newRunID()
	base, _ := s.Patches.CurrentBranch()
	active := base
	if s.Config.Workflow.BranchStrategy == config.BranchAuxiliary && s.Patches.HasVCS() {
		active = "architect/" + newID
		if err := gitutil.SwitchCreate(s.RepoDir, active, ""); err != nil {
			return "", "", "", nil, false, err
		}
	}
	return newID, base, active, nil, false, nil
}

// upsertRunRecord writes or updates the RunRecord keyed by runID.
func (s *Supervisor) upsertRunRecord(runID, goal, baseBranch, activeBranch string, status model.RunStatus, startedAt time.Time, endedAt *time.Time, totalTasks, completedTasks int, checkpointID, failureTaskID, failureReason string) error {
	_, err := state.Update(s.Store, state.NSRuns, model.RunsData{}, func(d model.RunsData) (model.RunsData, error) {
		if d.Runs == nil {
			d.Runs = map[string]model.RunRecord{}
		}
		rec := d.Runs[runID]
		rec.RunID = runID
		rec.Goal = goal
		rec.BaseBranch = baseBranch
		rec.ActiveBranch = activeBranch
		rec.Status = status
		if rec.StartedAt.IsZero() {
			rec.StartedAt = startedAt
		}
		rec.EndedAt = endedAt
		if totalTasks > 0 {
			rec.TotalTasks = totalTasks
		}
		rec.CompletedTasks = completedTasks
		if checkpointID != "" {
			rec.CheckpointID = checkpointID
		}
		rec.FailureTaskID = failureTaskID
		rec.FailureReason = failureReason
		d.Runs[runID] = rec
		return d, nil
	})
	return err
}
