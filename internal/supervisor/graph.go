package supervisor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/model"
)

// maxPlanSteps bounds the number of steps extracted from planner output.
// spec.md §9 notes two historical flavors (6 vs 24); the 24-step flavor is
// chosen so the chunked gate design has room to matter.
const maxPlanSteps = 24

var (
	bulletLineRe    = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
	numberedLineRe  = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
)

// extractPlanSteps pulls bullet/numbered list items out of planner output,
// up to maxPlanSteps (spec.md §4.5 "Task graph construction").
func extractPlanSteps(output string) []string {
	var steps []string
	for _, line := range strings.Split(output, "\n") {
		if m := bulletLineRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
		} else if m := numberedLineRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
		}
		if len(steps) >= maxPlanSteps {
			break
		}
	}
	return steps
}

// allowedToolsFor returns the fixed per-type tool set (spec.md §4.5 step b).
func allowedToolsFor(t model.TaskType) []string {
	switch t {
	case model.TaskImplement:
		return []string{"read_file", "write_file", "edit_file", "run_command", "search"}
	case model.TaskTest:
		return []string{"read_file", "run_command"}
	case model.TaskReview:
		return []string{"read_file", "run_command", "search"}
	case model.TaskDocument:
		return []string{"read_file", "write_file", "edit_file", "search"}
	default:
		return nil
	}
}

// buildTaskGraph expands the plan task into the full dependency-ordered
// graph (spec.md §4.5 "Task graph construction"): implementation tasks
// chunked into groups of cfg.MaxPatchesBeforeReview, each chunk gated by a
// test task and (if require_critic_approval) a review task, chained so each
// chunk's implements depend on the previous chunk's gate, and a final
// document task depending on the last gate. pendingModify tasks (carried
// over "modify this patch" work, produced outside this core) are prepended
// ungated.
func buildTaskGraph(steps []string, pendingModify []model.WorkTask, cfg config.WorkflowConfig, planGateID string) []model.WorkTask {
	if len(steps) == 0 {
		steps = []string{"Implement the stated goal"}
	}

	now := time.Now().UTC()
	var out []model.WorkTask
	out = append(out, pendingModify...)

	implements := make([]model.WorkTask, 0, len(steps))
	for i, step := range steps {
		id := fmt.Sprintf("task-implement-%03d", i+1)
		implements = append(implements, model.WorkTask{
			ID: id, Type: model.TaskImplement, AssignedTo: model.RoleCoder,
			Description: step, Status: model.TaskPending, CreatedAt: now,
			AllowedTools: allowedToolsFor(model.TaskImplement),
		})
	}

	chunkSize := cfg.MaxPatchesBeforeReview
	if chunkSize <= 0 {
		chunkSize = len(implements)
	}

	prevGate := planGateID
	chunkIdx := 1
	for start := 0; start < len(implements); start += chunkSize {
		end := start + chunkSize
		if end > len(implements) {
			end = len(implements)
		}
		chunk := implements[start:end]
		implIDs := make([]string, 0, len(chunk))
		for i := range chunk {
			chunk[i].DependsOn = append(chunk[i].DependsOn, prevGate)
			implIDs = append(implIDs, chunk[i].ID)
		}
		out = append(out, chunk...)

		testTask := model.WorkTask{
			ID: fmt.Sprintf("task-test-%03d", chunkIdx), Type: model.TaskTest, AssignedTo: model.RoleTester,
			Description: "Run the test suite for the preceding implementation chunk.",
			Status:      model.TaskPending, DependsOn: implIDs, CreatedAt: now,
			AllowedTools: allowedToolsFor(model.TaskTest),
		}
		out = append(out, testTask)
		gate := testTask.ID

		if cfg.RequireCriticApproval {
			reviewTask := model.WorkTask{
				ID: fmt.Sprintf("task-review-%03d", chunkIdx), Type: model.TaskReview, AssignedTo: model.RoleCritic,
				Description: "Review the preceding implementation chunk.",
				Status:      model.TaskPending, DependsOn: []string{testTask.ID}, CreatedAt: now,
				AllowedTools: allowedToolsFor(model.TaskReview),
			}
			out = append(out, reviewTask)
			gate = reviewTask.ID
		}
		prevGate = gate
		chunkIdx++
	}

	out = append(out, model.WorkTask{
		ID: "task-document-001", Type: model.TaskDocument, AssignedTo: model.RoleDocumenter,
		Description: "Update documentation to reflect this run's changes.",
		Status:      model.TaskPending, DependsOn: []string{prevGate}, CreatedAt: now,
		AllowedTools: allowedToolsFor(model.TaskDocument),
	})

	return out
}

// readyTasks returns pending tasks whose dependencies are all completed
// (spec.md §8 invariant #3).
func readyTasks(tasks []model.WorkTask) []model.WorkTask {
	completed := map[string]bool{}
	for _, t := range tasks {
		if t.Status == model.TaskCompleted {
			completed[t.ID] = true
		}
	}
	var ready []model.WorkTask
	for _, t := range tasks {
		if t.Status != model.TaskPending {
			continue
		}
		allDone := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t)
		}
	}
	return ready
}

// allTerminal reports whether every task is completed, failed, or skipped.
func allTerminal(tasks []model.WorkTask) bool {
	for _, t := range tasks {
		if t.Status != model.TaskCompleted && t.Status != model.TaskFailed && t.Status != model.TaskSkipped {
			return false
		}
	}
	return true
}

func allCompleted(tasks []model.WorkTask) bool {
	for _, t := range tasks {
		if t.Status != model.TaskCompleted {
			return false
		}
	}
	return true
}

func countCompleted(tasks []model.WorkTask) int {
	n := 0
	for _, t := range tasks {
		if t.Status == model.TaskCompleted {
			n++
		}
	}
	return n
}
