// Package specialist implements the Specialist described in spec.md §4.4:
// a thin capability bound to a fixed role, a system prompt, and a
// fixed tool allow-list, that calls the BackendDispatcher and returns text.
package specialist

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/dispatcher"
	"github.com/canburaks/arch/internal/model"
)

// AllowedTools is the fixed tool allow-list every Specialist enforces
// (spec.md §4.4).
var AllowedTools = []string{"read_file", "write_file", "edit_file", "run_command", "search"}

func isAllowedTool(name string) bool {
	for _, t := range AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// ToolMode selects whether run invokes executeWithTools or streams with an
// explicit tools= argument (spec.md §4.4 / Open Questions: implementers may
// pick either, kept consistent across roles).
type ToolMode string

const (
	ToolModeExecuteWithTools ToolMode = "execute_with_tools"
	ToolModeStreamWithTools  ToolMode = "stream_with_tools"
)

// Specialist is a fixed-role capability wrapping a BackendDispatcher call.
type Specialist struct {
	Role          model.SpecialistRole
	SystemPrompt  string
	Model         string
	Backend       *dispatcher.ResilientBackend
	ToolMode      ToolMode
}

// New constructs a Specialist for role, loading its system prompt from
// promptPath if non-empty and readable, falling back to the built-in
// default otherwise (spec.md §4.4).
func New(role model.SpecialistRole, promptPath, modelName string, backend *dispatcher.ResilientBackend) *Specialist {
	prompt := defaultPromptFor(role)
	if strings.TrimSpace(promptPath) != "" {
		if b, err := os.ReadFile(promptPath); err == nil && strings.TrimSpace(string(b)) != "" {
			prompt = string(b)
		}
	}
	return &Specialist{
		Role:         role,
		SystemPrompt: prompt,
		Model:        modelName,
		Backend:      backend,
		ToolMode:     ToolModeExecuteWithTools,
	}
}

// Result is the output of run (spec.md §4.4).
type Result struct {
	Role     model.SpecialistRole `json:"role"`
	Content  string               `json:"content"`
	Metadata ResultMetadata       `json:"metadata"`
}

// ResultMetadata is the `metadata` object of Result.
type ResultMetadata struct {
	Instruction        string   `json:"instruction"`
	ToolMode           string   `json:"tool_mode"`
	AllowedTools       []string `json:"allowed_tools,omitempty"`
	ToolPolicyEnforced bool     `json:"tool_policy_enforced,omitempty"`
}

// Run normalizes allowedTools against the fixed allow-list, rejects unknown
// tool names, calls the backend, and returns the collected text along with
// metadata describing how the call was made (spec.md §4.4).
func (s *Specialist) Run(ctx context.Context, instruction, userContext string, allowedTools []string) (Result, error) {
	normalized, err := s.normalizeTools(allowedTools)
	if err != nil {
		return Result{}, err
	}

	userPrompt := instruction
	if strings.TrimSpace(userContext) != "" {
		userPrompt = fmt.Sprintf("%s\n\n<context>\n%s\n</context>\n", instruction, userContext)
	}

	payload, err := s.Backend.ExecuteWithTools(ctx, s.SystemPrompt, userPrompt, normalized)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Role:    s.Role,
		Content: payload.Content,
		Metadata: ResultMetadata{
			Instruction:        instruction,
			ToolMode:           string(s.ToolMode),
			AllowedTools:       normalized,
			ToolPolicyEnforced: len(allowedTools) > 0,
		},
	}, nil
}

// normalizeTools rejects any tool name outside AllowedTools (spec.md §4.4).
func (s *Specialist) normalizeTools(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(requested))
	seen := map[string]bool{}
	for _, t := range requested {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		if !isAllowedTool(t) {
			return nil, coreerr.ToolPolicy(fmt.Sprintf("specialist %s: tool %q is not in the fixed allow-list %v", s.Role, t, AllowedTools))
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

func defaultPromptFor(role model.SpecialistRole) string {
	switch role {
	case model.RolePlanner:
		return "You are the planning specialist. Decompose the stated goal into a small, ordered set of concrete implementation steps. Do not write code; produce a plan."
	case model.RoleCoder:
		return "You are the implementation specialist. Make the minimal correct code change to satisfy the assigned task. Read relevant files before editing and keep diffs focused."
	case model.RoleTester:
		return "You are the testing specialist. Write or run tests that exercise the change under review. Report pass/fail and coverage where available."
	case model.RoleCritic:
		return "You are the review specialist. Examine the proposed change for correctness, safety, and adherence to the task's intent. Report concrete issues, not style preferences."
	case model.RoleDocumenter:
		return "You are the documentation specialist. Update documentation to reflect the change. Keep edits accurate and proportional to what changed."
	default:
		return "You are a specialist agent operating under a supervising orchestrator. Follow the instruction exactly and report your result."
	}
}
