package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/model"
)

// scriptedClient returns a scripted sequence of (payload, error) results,
// one per call, then repeats the last entry.
type scriptedClient struct {
	name    string
	results []struct {
		payload ExecPayload
		err     error
	}
	calls int
}

func (c *scriptedClient) Name() string { return c.name }

func (c *scriptedClient) Execute(ctx context.Context, systemPrompt, userPrompt string, tools []string) (<-chan string, <-chan error) {
	panic("not used in these tests")
}

func (c *scriptedClient) ExecuteWithTools(ctx context.Context, systemPrompt, userPrompt string, allowedTools []string) (ExecPayload, error) {
	idx := c.calls
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	c.calls++
	return c.results[idx].payload, c.results[idx].err
}

func retriableErr(msg string) error { return coreerr.BackendExecution(msg, nil) }
func fatalErr(msg string) error     { return coreerr.BackendProcess(msg, nil) }

func TestResilientBackend_FallbackSuccess(t *testing.T) {
	primary := &scriptedClient{name: "primary"}
	primary.results = append(primary.results,
		struct {
			payload ExecPayload
			err     error
		}{ExecPayload{}, retriableErr("boom")},
	)
	fallback := &scriptedClient{name: "fallback"}
	fallback.results = append(fallback.results,
		struct {
			payload ExecPayload
			err     error
		}{ExecPayload{Backend: "fallback", Content: "ok"}, nil},
	)

	var events []model.BackendEvent
	rb := &ResilientBackend{
		Primary: primary, Fallback: fallback,
		Policy:  RetryPolicy{MaxRetries: 1, BackoffSeconds: 0, TimeoutSeconds: 5},
		OnEvent: func(e model.BackendEvent) { events = append(events, e) },
	}

	payload, err := rb.ExecuteWithTools(context.Background(), "sys", "user", nil)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Content != "ok" {
		t.Errorf("content = %q, want ok", payload.Content)
	}

	var sawRetry, sawFallbackSuccess bool
	for _, e := range events {
		if e.Kind == "backend_retry" {
			sawRetry = true
		}
		if e.Kind == "backend_fallback_success" {
			sawFallbackSuccess = true
		}
	}
	if !sawRetry {
		t.Error("expected a backend_retry event for the primary's retriable failure")
	}
	if !sawFallbackSuccess {
		t.Error("expected a backend_fallback_success event")
	}
}

func TestResilientBackend_NonRetriableSkipsToFallback(t *testing.T) {
	primary := &scriptedClient{name: "primary"}
	primary.results = append(primary.results,
		struct {
			payload ExecPayload
			err     error
		}{ExecPayload{}, fatalErr("binary not found")},
	)
	fallback := &scriptedClient{name: "fallback"}
	fallback.results = append(fallback.results,
		struct {
			payload ExecPayload
			err     error
		}{ExecPayload{Backend: "fallback", Content: "ok"}, nil},
	)

	rb := &ResilientBackend{
		Primary: primary, Fallback: fallback,
		Policy: RetryPolicy{MaxRetries: 3, BackoffSeconds: 0, TimeoutSeconds: 5},
	}
	payload, err := rb.ExecuteWithTools(context.Background(), "sys", "user", nil)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Content != "ok" {
		t.Errorf("content = %q, want ok", payload.Content)
	}
	// Non-retriable errors must not consume the retry budget: only one call.
	if primary.calls != 1 {
		t.Errorf("primary.calls = %d, want 1 (non-retriable breaks immediately)", primary.calls)
	}
}

func TestResilientBackend_IdenticalNamesDisableFailover(t *testing.T) {
	client := &scriptedClient{name: "same"}
	client.results = append(client.results,
		struct {
			payload ExecPayload
			err     error
		}{ExecPayload{}, retriableErr("down")},
	)
	rb := &ResilientBackend{
		Primary: client, Fallback: client,
		Policy: RetryPolicy{MaxRetries: 0, BackoffSeconds: 0, TimeoutSeconds: 5},
	}
	_, err := rb.ExecuteWithTools(context.Background(), "sys", "user", nil)
	if err == nil {
		t.Fatal("expected terminal failure when primary == fallback and retries are exhausted")
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1 (identical primary/fallback must not double-attempt)", client.calls)
	}
}

func TestResilientBackend_TerminalFailureIncludesLastSixAttempts(t *testing.T) {
	primary := &scriptedClient{name: "primary"}
	for i := 0; i < 5; i++ {
		primary.results = append(primary.results, struct {
			payload ExecPayload
			err     error
		}{ExecPayload{}, retriableErr(fmt.Sprintf("fail-%d", i))})
	}
	rb := &ResilientBackend{
		Primary: primary,
		Policy:  RetryPolicy{MaxRetries: 4, BackoffSeconds: 0, TimeoutSeconds: 5},
	}
	_, err := rb.ExecuteWithTools(context.Background(), "sys", "user", nil)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	for i := 0; i < 5; i++ {
		if want := fmt.Sprintf("fail-%d", i); !strings.Contains(err.Error(), want) {
			t.Errorf("terminal error %q does not mention attempt %q", err.Error(), want)
		}
	}
}
