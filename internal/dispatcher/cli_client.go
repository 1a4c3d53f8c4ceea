package dispatcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/canburaks/arch/internal/coreerr"
)

// CLIClient launches an external agent binary as a subprocess, passing the
// system prompt via a temp file (referenced by an environment variable) and
// the user prompt as the final positional argument, then decodes its stdout
// as JSON-Lines (spec.md §4.3).
type CLIClient struct {
	name       string
	binaryPath string
	extraArgs  []string
	workDir    string
	systemEnv  string // environment variable name carrying the system-prompt file path
}

// NewCLIClient constructs a CLIClient for a backend binary at binaryPath.
func NewCLIClient(name, binaryPath, workDir string, extraArgs []string) *CLIClient {
	return &CLIClient{
		name:       name,
		binaryPath: binaryPath,
		extraArgs:  extraArgs,
		workDir:    workDir,
		systemEnv:  "ARCHITECT_SYSTEM_PROMPT_FILE",
	}
}

func (c *CLIClient) Name() string { return c.name }

// BinaryPath exposes the backing executable path for preflight probing.
func (c *CLIClient) BinaryPath() string { return c.binaryPath }

func (c *CLIClient) buildCommand(ctx context.Context, systemPrompt, userPrompt string, tools []string) (*exec.Cmd, func(), error) {
	tmp, err := os.CreateTemp("", "architect-system-*.txt")
	if err != nil {
		return nil, nil, coreerr.BackendProcess(fmt.Sprintf("%s: cannot create system prompt temp file", c.name), err)
	}
	if _, err := tmp.WriteString(systemPrompt); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, nil, coreerr.BackendProcess(fmt.Sprintf("%s: cannot write system prompt temp file", c.name), err)
	}
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	args := append([]string{}, c.extraArgs...)
	if len(tools) > 0 {
		args = append(args, "--tools", strings.Join(tools, ","))
	}
	args = append(args, userPrompt)

	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	cmd.Dir = c.workDir
	cmd.Env = append([]string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		c.systemEnv + "=" + tmp.Name(),
	})
	return cmd, cleanup, nil
}

// Execute streams decoded text chunks from the subprocess's stdout.
func (c *CLIClient) Execute(ctx context.Context, systemPrompt, userPrompt string, tools []string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errc := make(chan error, 1)

	cmd, cleanup, err := c.buildCommand(ctx, systemPrompt, userPrompt, tools)
	if err != nil {
		close(out)
		errc <- err
		return out, errc
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		close(out)
		errc <- coreerr.BackendProcess(fmt.Sprintf("%s: cannot attach stdout", c.name), err)
		return out, errc
	}
	var stderrTail strings.Builder
	cmd.Stderr = &tailWriter{limit: 4096, sb: &stderrTail}

	if err := cmd.Start(); err != nil {
		cleanup()
		close(out)
		errc <- coreerr.BackendProcess(fmt.Sprintf("%s: cannot launch %s", c.name, c.binaryPath), err)
		return out, errc
	}

	go func() {
		defer cleanup()
		defer close(out)

		reassembler := &lineReassembler{}
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
		for scanner.Scan() {
			ev := reassembler.Feed(scanner.Bytes())
			if ev == nil {
				continue
			}
			if ev.IsRaw {
				if strings.TrimSpace(ev.RawText) != "" {
					out <- ev.RawText
				}
				continue
			}
			if text, ok := extractText(ev.JSON); ok && text != "" {
				out <- text
			}
		}

		waitErr := cmd.Wait()
		if waitErr != nil {
			errc <- coreerr.BackendExecution(fmt.Sprintf("%s exited with error (stderr: %s)",
				c.binaryPath, strings.TrimSpace(stderrTail.String())), waitErr)
			return
		}
		errc <- nil
	}()

	return out, errc
}

// ExecuteWithTools runs Execute to completion and assembles the chunks.
func (c *CLIClient) ExecuteWithTools(ctx context.Context, systemPrompt, userPrompt string, allowedTools []string) (ExecPayload, error) {
	chunks, errc := c.Execute(ctx, systemPrompt, userPrompt, allowedTools)
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
	}
	if err := <-errc; err != nil {
		return ExecPayload{}, err
	}
	return ExecPayload{
		Backend:      c.name,
		Content:      sb.String(),
		AllowedTools: allowedTools,
	}, nil
}

// tailWriter keeps only the last limit bytes written to it (stderr tail for
// retriable-execution-error messages).
type tailWriter struct {
	limit int
	sb    *strings.Builder
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.sb.Write(p)
	if w.sb.Len() > w.limit {
		s := w.sb.String()
		w.sb.Reset()
		w.sb.WriteString(s[len(s)-w.limit:])
	}
	return len(p), nil
}
