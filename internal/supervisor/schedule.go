package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
)

// mainLoop drives the ready-set scheduling loop (spec.md §4.5 step 6) until
// every task is completed or one fails out its attempt budget.
func (s *Supervisor) mainLoop(ctx context.Context, runID, goal string, started time.Time) (model.RunSummary, error) {
	for {
		tasksData, err := state.GetData(s.Store, state.NSTasks, model.TasksData{})
		if err != nil {
			return model.RunSummary{}, err
		}
		if allCompleted(tasksData.TaskQueue) {
			return s.finalizeSuccess(runID, goal, started, tasksData.TaskQueue)
		}

		ready := readyTasks(tasksData.TaskQueue)
		if len(ready) == 0 {
			return s.finalizeFailure(runID, goal, started, "", "scheduler stalled: tasks remain incomplete with none ready")
		}

		batch := selectBatch(ready, s.Config.Workflow.MaxParallelTasks)
		if err := s.runBatch(ctx, runID, goal, batch); err != nil {
			var ffe *finalFailError
			if errors.As(err, &ffe) {
				return s.finalizeFailure(runID, goal, started, ffe.taskID, ffe.reason)
			}
			return model.RunSummary{}, err
		}
	}
}

// selectBatch picks the next group of ready tasks to dispatch together.
// implement/document tasks mutate the worktree and so run one at a time;
// any other type may run up to max_parallel_tasks concurrently.
func selectBatch(ready []model.WorkTask, maxParallel int) []model.WorkTask {
	var mutating []model.WorkTask
	for _, t := range ready {
		if t.Type == model.TaskImplement || t.Type == model.TaskDocument {
			mutating = append(mutating, t)
		}
	}
	if len(mutating) > 0 {
		sort.Slice(mutating, func(i, j int) bool { return mutating[i].ID < mutating[j].ID })
		return mutating[:1]
	}

	byType := map[model.TaskType][]model.WorkTask{}
	var order []model.TaskType
	for _, t := range ready {
		if _, ok := byType[t.Type]; !ok {
			order = append(order, t.Type)
		}
		byType[t.Type] = append(byType[t.Type], t)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	group := byType[order[0]]
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	if maxParallel > 0 && len(group) > maxParallel {
		group = group[:maxParallel]
	}
	return group
}

func (s *Supervisor) runBatch(ctx context.Context, runID, goal string, batch []model.WorkTask) error {
	if len(batch) == 1 {
		return s.executeTask(ctx, runID, goal, batch[0])
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))
	for _, t := range batch {
		wg.Add(1)
		go func(t model.WorkTask) {
			defer wg.Done()
			errCh <- s.executeTask(ctx, runID, goal, t)
		}(t)
	}
	wg.Wait()
	close(errCh)
	for e := range errCh {
		if e != nil {
			return e
		}
	}
	return nil
}

// executeTask runs one task's full dispatch-gate-retry pipeline (spec.md
// §4.5 steps a-g), retrying within its attempt budget and handing control
// back to mainLoop with a *finalFailError only once that budget is spent.
func (s *Supervisor) executeTask(ctx context.Context, runID, goal string, task model.WorkTask) error {
	maxAttempts := s.Config.Workflow.TaskMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := task.Attempt + 1; attempt <= maxAttempts; attempt++ {
		if err := s.markTaskInProgress(task.ID, attempt); err != nil {
			return err
		}
		if err := s.heartbeatLease(runID, task.ID); err != nil {
			return err
		}

		sp := s.specialistFor(task.AssignedTo)
		if sp == nil {
			return s.failTask(task.ID, fmt.Sprintf("no specialist wired for role %q", task.AssignedTo))
		}

		tools := task.AllowedTools
		if len(tools) == 0 {
			tools = allowedToolsFor(task.Type)
		}

		result, runErr := sp.Run(ctx, task.Description, s.contextFor(goal, task), tools)
		if runErr != nil {
			if attempt >= maxAttempts {
				return s.failTask(task.ID, fmt.Sprintf("specialist call failed: %v", runErr))
			}
			s.sleepBackoff(ctx, attempt)
			continue
		}

		if err := s.writeArtifact(runID, task.ID, result.Content); err != nil {
			return err
		}

		if task.ID == "task-plan-001" {
			if err := s.maybeExpandGraph(task.ID, result.Content); err != nil {
				return err
			}
		}

		var filesChanged []string
		var guardrailErr error
		if task.Type == model.TaskImplement || task.Type == model.TaskDocument {
			ref, err := s.createPatchForTask(task, result.Content)
			if err != nil {
				if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindGuardrail {
					guardrailErr = err
				} else {
					return err
				}
			} else if ref != nil {
				filesChanged = ref.FilesChanged
			}
		}

		var gate model.QualityGateResult
		if guardrailErr != nil {
			gate = newGateResult(gateNameFor(task.Type), task.ID, false, guardrailErr.Error())
		} else {
			gate, err = s.evaluateGateFor(ctx, task, result.Content, filesChanged)
			if err != nil {
				return err
			}
		}
		if err := s.recordGateResult(gate); err != nil {
			return err
		}

		if gate.Passed {
			if err := s.recordDecision(string(task.Type)+"_output", string(task.AssignedTo), result.Content, "", task.ID); err != nil {
				return err
			}
			if err := s.completeTask(task.ID, result.Content); err != nil {
				return err
			}
			return s.advancePhase(task.Type)
		}

		if attempt >= maxAttempts {
			return s.failTask(task.ID, gate.Reason)
		}

		if err := s.updateMetrics(func(m *model.MetricsData) { m.ReplanCount++ }); err != nil {
			return err
		}
		if task.Type == model.TaskReview && result.Content != "" {
			if err := s.runConflictCycle(ctx, task.ID, result.Content); err != nil {
				return err
			}
		}
		s.sleepBackoff(ctx, attempt)
	}
	return s.failTask(task.ID, "exhausted attempts")
}

// finalizeSuccess records the completion checkpoint and marks the run complete
// (spec.md §4.5 step 7).
func (s *Supervisor) finalizeSuccess(runID, goal string, started time.Time, tasks []model.WorkTask) (model.RunSummary, error) {
	cp, err := s.Patches.CreateCheckpoint(runID+"-complete", goal, runID)
	if err != nil {
		return model.RunSummary{}, err
	}

	ended := time.Now().UTC()
	if _, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Phase = model.PhaseComplete
		c.Status = model.StatusComplete
		c.EndedAt = &ended
		return c, nil
	}); err != nil {
		return model.RunSummary{}, err
	}

	if err := s.releaseLease(runID); err != nil {
		return model.RunSummary{}, err
	}

	completed := countCompleted(tasks)
	if err := s.upsertRunRecord(runID, goal, "", "", model.StatusComplete, started, &ended, len(tasks), completed, cp.ID, "", ""); err != nil {
		return model.RunSummary{}, err
	}

	return model.RunSummary{
		Goal: goal, RunID: runID, StartedAt: started, EndedAt: ended,
		TotalTasks: len(tasks), CompletedTasks: completed, CheckpointID: cp.ID,
	}, nil
}

// finalizeFailure records a failure checkpoint and marks the run failed
// (spec.md §4.5 step 7), returning the error surfaced to the caller.
func (s *Supervisor) finalizeFailure(runID, goal string, started time.Time, failureTaskID, reason string) (model.RunSummary, error) {
	cp, cpErr := s.Patches.CreateFailureCheckpoint(runID+"-failed", goal, runID, failureTaskID, reason)

	ended := time.Now().UTC()
	_, _ = s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Phase = model.PhasePaused
		c.Status = model.StatusFailed
		c.EndedAt = &ended
		return c, nil
	})
	_ = s.releaseLease(runID)

	checkpointID := ""
	if cpErr == nil && cp != nil {
		checkpointID = cp.ID
	}
	tasksData, _ := state.GetData(s.Store, state.NSTasks, model.TasksData{})
	_ = s.upsertRunRecord(runID, goal, "", "", model.StatusFailed, started, &ended,
		len(tasksData.TaskQueue), countCompleted(tasksData.TaskQueue), checkpointID, failureTaskID, reason)

	return model.RunSummary{}, fmt.Errorf("run failed: task %s: %s", failureTaskID, reason)
}
