package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/patch"
)

// runConflictResolution implements spec.md §4.5.2: critic → planner →
// supervisor-agent (each optional, skipped when not wired), each appending a
// decision, then the coder applies remediation with the aggregated
// findings. If remediation produced worktree changes they are committed as
// a "remediation-<review_task_id>" patch.
func (s *Supervisor) runConflictResolution(ctx context.Context, reviewTaskID, reviewOutput string) (*model.PatchRef, error) {
	aggregate := strings.Builder{}
	aggregate.WriteString("Review findings:\n")
	aggregate.WriteString(reviewOutput)

	if s.Specialists.Critic != nil {
		res, err := s.Specialists.Critic.Run(ctx, "Summarize the blocking concerns from this review and what must change.", reviewOutput, nil)
		if err != nil {
			return nil, err
		}
		_ = s.recordDecision("conflict_critic", string(model.RoleCritic), res.Content, "", reviewTaskID)
		aggregate.WriteString("\n\nCritic:\n" + res.Content)
	}

	if s.Specialists.Planner != nil {
		res, err := s.Specialists.Planner.Run(ctx, "Propose a remediation plan for the following review findings.", aggregate.String(), nil)
		if err != nil {
			return nil, err
		}
		_ = s.recordDecision("conflict_planner", string(model.RolePlanner), res.Content, "", reviewTaskID)
		aggregate.WriteString("\n\nPlanner:\n" + res.Content)
	}

	if s.Specialists.Supervisor != nil {
		res, err := s.Specialists.Supervisor.Run(ctx, "Arbitrate and finalize the remediation approach for the following.", aggregate.String(), nil)
		if err != nil {
			return nil, err
		}
		_ = s.recordDecision("conflict_supervisor", string(model.RoleSupervisor), res.Content, "", reviewTaskID)
		aggregate.WriteString("\n\nSupervisor:\n" + res.Content)
	}

	if s.Specialists.Coder == nil {
		return nil, nil
	}
	coderRes, err := s.Specialists.Coder.Run(ctx, "Apply remediation for the following review findings.", aggregate.String(), allowedToolsFor(model.TaskImplement))
	if err != nil {
		return nil, err
	}

	rc, err := s.context()
	if err != nil {
		return nil, err
	}

	// Unlike a normal task patch, remediation with no worktree changes
	// produces no patch at all (spec.md §4.5.2), rather than a fallback artifact.
	if clean, err := gitutil.IsClean(s.RepoDir); err != nil {
		return nil, err
	} else if clean {
		return nil, nil
	}

	ref, err := s.Patches.CreateTaskPatchFromWorktree(patch.CreateOptions{
		Subject:        fmt.Sprintf("remediation-%s", reviewTaskID),
		Body:           coderRes.Content,
		TaskID:         reviewTaskID,
		RunID:          rc.CurrentRunID,
		ExcludePaths:   rc.DirtyWorktree.IsolatedPaths,
		MaxFiles:       s.Config.Guardrails.MaxFileChangesPerPatch,
		ForbiddenPaths: s.Config.Guardrails.ForbiddenPaths,
	})
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}

	if _, err := s.updateContext(func(c model.RunContext) (model.RunContext, error) {
		c.Session.PatchStack = append(c.Session.PatchStack, model.PatchRefLite{
			PatchID: ref.PatchID, CommitSHA: ref.CommitHash, TaskID: reviewTaskID,
		})
		return c, nil
	}); err != nil {
		return nil, err
	}
	return ref, nil
}
