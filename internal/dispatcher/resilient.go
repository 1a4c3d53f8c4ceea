package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canburaks/arch/internal/coreerr"
	"github.com/canburaks/arch/internal/model"
)

// EventHook is invoked for every retry, fallback engagement, attempt
// failure, and successful fallback (spec.md §4.3). The Supervisor wires this
// to append into metrics.backend_events (bounded).
type EventHook func(model.BackendEvent)

// ResilientBackend wraps a (primary, fallback) AgentClient pair with bounded
// retry, per-call timeout, and primary→fallback failover.
type ResilientBackend struct {
	Primary  AgentClient
	Fallback AgentClient
	Policy   RetryPolicy
	OnEvent  EventHook

	// RunID/TaskID seed the deterministic jitter; both optional.
	RunID  string
	TaskID string
}

type attemptSummary struct {
	backend string
	attempt int
	err     error
}

func (a attemptSummary) String() string {
	return fmt.Sprintf("%s#%d: %v", a.backend, a.attempt, a.err)
}

func (r *ResilientBackend) emit(kind, backend string, attempt int, detail string) {
	if r.OnEvent == nil {
		return
	}
	r.OnEvent(model.BackendEvent{Kind: kind, Backend: backend, Attempt: attempt, Detail: detail, At: time.Now().UTC()})
}

// candidates returns [primary] then, if distinct by name, [fallback].
func (r *ResilientBackend) candidates() []AgentClient {
	if r.Fallback == nil || r.Fallback.Name() == r.Primary.Name() {
		return []AgentClient{r.Primary}
	}
	return []AgentClient{r.Primary, r.Fallback}
}

// ExecuteWithTools runs the resilient call described in spec.md §4.3: for
// each backend in turn, up to maxRetries+1 attempts with exponential
// backoff; a non-retriable error breaks out of the current backend
// immediately; after all backends are exhausted, returns a terminal
// non-retriable error carrying the last six attempt summaries.
func (r *ResilientBackend) ExecuteWithTools(ctx context.Context, systemPrompt, userPrompt string, allowedTools []string) (ExecPayload, error) {
	backends := r.candidates()
	var history []attemptSummary

	for bi, backend := range backends {
		maxAttempts := r.Policy.MaxRetries + 1
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			payload, err := r.callOnce(ctx, backend, systemPrompt, userPrompt, allowedTools)
			if err == nil {
				if bi > 0 {
					r.emit("backend_fallback_success", backend.Name(), attempt, "")
				}
				return payload, nil
			}

			history = append(history, attemptSummary{backend: backend.Name(), attempt: attempt, err: err})
			retriable := coreerr.IsRetryable(err)

			if !retriable {
				r.emit("backend_attempt_failed", backend.Name(), attempt, err.Error())
				break // advance to fallback immediately
			}

			if attempt < maxAttempts {
				r.emit("backend_retry", backend.Name(), attempt, err.Error())
				seed := jitterSeed(r.RunID, r.TaskID, backend.Name(), attempt)
				delay := delayForAttempt(attempt, r.Policy, seed)
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return ExecPayload{}, ctx.Err()
					}
				}
				continue
			}
			r.emit("backend_attempt_failed", backend.Name(), attempt, err.Error())
		}
		if bi == 0 && len(backends) > 1 {
			r.emit("backend_fallback_engaged", backends[1].Name(), 0, "")
		}
	}

	return ExecPayload{}, terminalFailure(history)
}

func (r *ResilientBackend) callOnce(ctx context.Context, backend AgentClient, systemPrompt, userPrompt string, allowedTools []string) (ExecPayload, error) {
	timeout := r.Policy.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultRetryPolicy().TimeoutSeconds
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	type result struct {
		payload ExecPayload
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := backend.ExecuteWithTools(callCtx, systemPrompt, userPrompt, allowedTools)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		return res.payload, res.err
	case <-callCtx.Done():
		return ExecPayload{}, coreerr.BackendTimeout(fmt.Sprintf("%s: call exceeded %.0fs", backend.Name(), timeout))
	}
}

// terminalFailure builds the terminal non-retriable error whose message
// includes the last six attempt summaries (spec.md §4.3 Failure modes).
func terminalFailure(history []attemptSummary) error {
	start := 0
	if len(history) > 6 {
		start = len(history) - 6
	}
	lines := make([]string, 0, len(history)-start)
	for _, s := range history[start:] {
		lines = append(lines, s.String())
	}
	// Deliberately not a coreerr.Error: terminal failure is non-retriable,
	// and a plain error is already treated as non-retriable by IsRetryable.
	return fmt.Errorf("all backends exhausted after %d attempts; last attempts:\n%s", len(history), strings.Join(lines, "\n"))
}
