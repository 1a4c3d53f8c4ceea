// Package dispatcher implements the BackendDispatcher described in spec.md
// §4.3: timeout-bounded streaming execution of external agent CLIs with
// bounded retry, primary/fallback failover, structured telemetry, and
// partial-JSON line reassembly from subprocess stdout.
package dispatcher

import (
	"context"
)

// ExecPayload is the structured result of executeWithTools (spec.md §4.3).
type ExecPayload struct {
	Backend      string   `json:"backend"`
	Content      string   `json:"content"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// AgentClient is the interface a concrete leaf (a CLI-backed agent binary)
// implements. execute streams text chunks as they are decoded from the
// subprocess's JSON-Lines stdout; executeWithTools collects the full
// response and returns a structured payload.
type AgentClient interface {
	// Name identifies this client for telemetry (e.g. "claude-cli", "codex-cli").
	Name() string

	// Execute streams decoded text chunks from systemPrompt/userPrompt. The
	// returned channel is closed when the subprocess exits; a non-nil error
	// is sent as the final value read from errc.
	Execute(ctx context.Context, systemPrompt, userPrompt string, tools []string) (<-chan string, <-chan error)

	// ExecuteWithTools runs to completion and returns the assembled payload.
	ExecuteWithTools(ctx context.Context, systemPrompt, userPrompt string, allowedTools []string) (ExecPayload, error)
}
