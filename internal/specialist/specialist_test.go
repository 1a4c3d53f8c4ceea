package specialist

import (
	"context"
	"testing"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/dispatcher"
	"github.com/canburaks/arch/internal/model"
)

type stubClient struct{ content string }

func (c *stubClient) Name() string { return "stub" }
func (c *stubClient) Execute(ctx context.Context, systemPrompt, userPrompt string, tools []string) (<-chan string, <-chan error) {
	panic("not used")
}
func (c *stubClient) ExecuteWithTools(ctx context.Context, systemPrompt, userPrompt string, allowedTools []string) (dispatcher.ExecPayload, error) {
	return dispatcher.ExecPayload{Backend: "stub", Content: c.content, AllowedTools: allowedTools}, nil
}

func newTestBackend(content string) *dispatcher.ResilientBackend {
	return &dispatcher.ResilientBackend{
		Primary: &stubClient{content: content},
		Policy:  dispatcher.RetryPolicy{MaxRetries: 0, BackoffSeconds: 0, TimeoutSeconds: 5},
	}
}

func TestRun_NormalizesAndEnforcesAllowList(t *testing.T) {
	sp := New(model.RoleCoder, "", "", newTestBackend("done"))
	res, err := sp.Run(context.Background(), "implement the thing", "", []string{"read_file", "run_command"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "done" {
		t.Errorf("content = %q, want done", res.Content)
	}
	if !res.Metadata.ToolPolicyEnforced {
		t.Error("expected ToolPolicyEnforced=true when allowedTools was passed")
	}
	if len(res.Metadata.AllowedTools) != 2 {
		t.Errorf("allowed tools = %v, want 2 entries", res.Metadata.AllowedTools)
	}
}

func TestRun_RejectsUnknownTool(t *testing.T) {
	sp := New(model.RoleCoder, "", "", newTestBackend("done"))
	_, err := sp.Run(context.Background(), "do it", "", []string{"delete_repo"})
	if err == nil {
		t.Fatal("expected rejection of an unknown tool name")
	}
	if kind, ok := coreerr.KindOf(err); !ok || kind != coreerr.KindToolPolicy {
		t.Errorf("kind = %v, want tool_policy", kind)
	}
}

func TestDefaultPromptFallback(t *testing.T) {
	sp := New(model.RolePlanner, "/nonexistent/path/does-not-exist.txt", "", newTestBackend("x"))
	if sp.SystemPrompt == "" {
		t.Fatal("expected a non-empty built-in default system prompt")
	}
}
