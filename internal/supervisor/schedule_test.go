package supervisor

import (
	"testing"

	"github.com/canburaks/arch/internal/model"
)

func TestSelectBatch_MutatingTasksRunAlone(t *testing.T) {
	ready := []model.WorkTask{
		{ID: "task-test-001", Type: model.TaskTest},
		{ID: "task-implement-002", Type: model.TaskImplement},
		{ID: "task-implement-001", Type: model.TaskImplement},
	}
	batch := selectBatch(ready, 4)
	if len(batch) != 1 || batch[0].ID != "task-implement-001" {
		t.Fatalf("mutating tasks must be selected one at a time in ID order, got %v", batch)
	}
}

func TestSelectBatch_NonMutatingRespectsParallelCap(t *testing.T) {
	ready := []model.WorkTask{
		{ID: "task-test-001", Type: model.TaskTest},
		{ID: "task-test-002", Type: model.TaskTest},
		{ID: "task-test-003", Type: model.TaskTest},
	}
	batch := selectBatch(ready, 2)
	if len(batch) != 2 {
		t.Fatalf("batch should be capped at max_parallel_tasks=2, got %d", len(batch))
	}
	if batch[0].ID != "task-test-001" || batch[1].ID != "task-test-002" {
		t.Fatalf("batch should pick the lowest IDs first, got %v", batch)
	}
}

func TestSelectBatch_GroupsByTypeWhenMixed(t *testing.T) {
	ready := []model.WorkTask{
		{ID: "task-test-001", Type: model.TaskTest},
		{ID: "task-review-001", Type: model.TaskReview},
	}
	batch := selectBatch(ready, 4)
	if len(batch) != 1 || batch[0].Type != model.TaskReview {
		t.Fatalf("expected only the lexicographically-first type's tasks, got %v", batch)
	}
}
