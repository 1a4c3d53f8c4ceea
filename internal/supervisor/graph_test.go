package supervisor

import (
	"testing"
	"time"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/model"
)

func TestExtractPlanSteps_BulletsAndNumbers(t *testing.T) {
	out := "Intro paragraph.\n- Add the widget\n- Wire the config\n2) Write tests\nTrailing notes."
	steps := extractPlanSteps(out)
	if len(steps) != 3 {
		t.Fatalf("steps: got %d, want 3 (%v)", len(steps), steps)
	}
	if steps[0] != "Add the widget" || steps[2] != "Write tests" {
		t.Fatalf("unexpected steps: %v", steps)
	}
}

func TestExtractPlanSteps_CapsAtMax(t *testing.T) {
	out := ""
	for i := 0; i < 40; i++ {
		out += "- step\n"
	}
	steps := extractPlanSteps(out)
	if len(steps) != maxPlanSteps {
		t.Fatalf("steps: got %d, want %d", len(steps), maxPlanSteps)
	}
}

func TestBuildTaskGraph_ChunksAndGates(t *testing.T) {
	cfg := config.WorkflowConfig{MaxPatchesBeforeReview: 2, RequireCriticApproval: true}
	steps := []string{"a", "b", "c"}
	tasks := buildTaskGraph(steps, nil, cfg, "task-plan-001")

	var implements, tests, reviews, docs int
	for _, tk := range tasks {
		switch tk.Type {
		case model.TaskImplement:
			implements++
		case model.TaskTest:
			tests++
		case model.TaskReview:
			reviews++
		case model.TaskDocument:
			docs++
		}
	}
	if implements != 3 {
		t.Fatalf("implements: got %d, want 3", implements)
	}
	if tests != 2 || reviews != 2 {
		t.Fatalf("expected 2 chunks of test+review, got tests=%d reviews=%d", tests, reviews)
	}
	if docs != 1 {
		t.Fatalf("documents: got %d, want 1", docs)
	}

	first := tasks[0]
	if first.DependsOn[0] != "task-plan-001" {
		t.Fatalf("first implement task should depend on the plan gate, got %v", first.DependsOn)
	}

	var last model.WorkTask
	for _, tk := range tasks {
		if tk.Type == model.TaskDocument {
			last = tk
		}
	}
	if len(last.DependsOn) != 1 {
		t.Fatalf("document task should depend on exactly one gate, got %v", last.DependsOn)
	}
}

func TestBuildTaskGraph_NoCriticApproval_TestIsGate(t *testing.T) {
	cfg := config.WorkflowConfig{MaxPatchesBeforeReview: 10, RequireCriticApproval: false}
	tasks := buildTaskGraph([]string{"a"}, nil, cfg, "task-plan-001")
	for _, tk := range tasks {
		if tk.Type == model.TaskReview {
			t.Fatalf("review task should not exist when require_critic_approval is false")
		}
	}
	var doc model.WorkTask
	for _, tk := range tasks {
		if tk.Type == model.TaskDocument {
			doc = tk
		}
	}
	if len(doc.DependsOn) != 1 {
		t.Fatalf("document should depend on the test gate directly, got %v", doc.DependsOn)
	}
}

func TestBuildTaskGraph_PendingModifyPrepended(t *testing.T) {
	cfg := config.WorkflowConfig{MaxPatchesBeforeReview: 10, RequireCriticApproval: false}
	modify := []model.WorkTask{{ID: "task-modify-001", Type: model.TaskImplement, AssignedTo: model.RoleCoder, Status: model.TaskPending}}
	tasks := buildTaskGraph([]string{"a"}, modify, cfg, "task-plan-001")
	if tasks[0].ID != "task-modify-001" {
		t.Fatalf("pending modify task should be prepended ungated, got %v", tasks[0])
	}
}

func TestLoadPendingModifyTasks_ResetsAndFilters(t *testing.T) {
	completedAt := time.Now().UTC()
	queue := []model.WorkTask{
		{ID: "task-plan-001", Status: model.TaskCompleted},
		{ID: "task-modify-001", Status: model.TaskFailed, FailureReason: "boom", CompletedAt: &completedAt, AssignedTo: model.RoleCritic},
		{ID: "task-modify-002", Status: model.TaskCompleted},
		{ID: "task-implement-001", Status: model.TaskPending},
	}
	pending := loadPendingModifyTasks(queue, "task-plan-001")
	if len(pending) != 1 || pending[0].ID != "task-modify-001" {
		t.Fatalf("expected only the failed modify task to carry over, got %v", pending)
	}
	got := pending[0]
	if got.Status != model.TaskPending || got.FailureReason != "" || got.CompletedAt != nil {
		t.Fatalf("carried-over modify task should be reset to a clean pending state, got %+v", got)
	}
	if got.AssignedTo != model.RoleCoder {
		t.Fatalf("carried-over modify task should be reassigned to the coder, got %q", got.AssignedTo)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "task-plan-001" {
		t.Fatalf("carried-over modify task should depend on the plan task, got %v", got.DependsOn)
	}
}

func TestReadyTasks_RespectsDependencies(t *testing.T) {
	tasks := []model.WorkTask{
		{ID: "a", Status: model.TaskCompleted},
		{ID: "b", Status: model.TaskPending, DependsOn: []string{"a"}},
		{ID: "c", Status: model.TaskPending, DependsOn: []string{"b"}},
	}
	ready := readyTasks(tasks)
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("ready: got %v, want [b]", ready)
	}
}

func TestAllCompletedAndCountCompleted(t *testing.T) {
	tasks := []model.WorkTask{
		{ID: "a", Status: model.TaskCompleted},
		{ID: "b", Status: model.TaskFailed},
	}
	if allCompleted(tasks) {
		t.Fatalf("allCompleted should be false with a failed task")
	}
	if countCompleted(tasks) != 1 {
		t.Fatalf("countCompleted: got %d, want 1", countCompleted(tasks))
	}
	if !allTerminal(tasks) {
		t.Fatalf("allTerminal should be true: completed+failed are both terminal")
	}
}
