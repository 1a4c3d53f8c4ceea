package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/dispatcher"
	"github.com/canburaks/arch/internal/gitutil"
	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/patch"
	"github.com/canburaks/arch/internal/specialist"
	"github.com/canburaks/arch/internal/state"
	"github.com/canburaks/arch/internal/supervisor"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:], false)
	case "resume":
		cmdRun(os.Args[2:], true)
	case "status":
		cmdStatus(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  architect run --repo <path> --config <run.yaml> --goal <text> [--prompts-dir <dir>] [--model <name>]")
	fmt.Fprintln(os.Stderr, "  architect resume --repo <path> --config <run.yaml> [--goal <text>]")
	fmt.Fprintln(os.Stderr, "  architect status --repo <path> --config <run.yaml>")
	fmt.Fprintln(os.Stderr, "  architect validate --config <run.yaml>")
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
}

type runFlags struct {
	repo       string
	configPath string
	goal       string
	promptsDir string
	model      string
}

func parseRunFlags(args []string) runFlags {
	f := runFlags{repo: "."}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			i++
			f.repo = args[i]
		case "--config":
			i++
			f.configPath = args[i]
		case "--goal":
			i++
			f.goal = args[i]
		case "--prompts-dir":
			i++
			f.promptsDir = args[i]
		case "--model":
			i++
			f.model = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	return f
}

func cmdRun(args []string, resume bool) {
	f := parseRunFlags(args)
	if f.configPath == "" || (f.goal == "" && !resume) {
		usage()
		os.Exit(1)
	}

	sup, cleanup, err := buildSupervisor(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signalCancelContext()
	defer stop()

	summary, err := sup.Run(ctx, f.goal, resume)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))
}

func cmdStatus(args []string) {
	f := parseRunFlags(args)
	if f.configPath == "" {
		usage()
		os.Exit(1)
	}
	_, store, _, cleanup, err := wireState(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	rc, err := state.GetData(store, state.NSContext, model.RunContext{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	tasks, err := state.GetData(store, state.NSTasks, model.TasksData{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	metrics, err := state.GetData(store, state.NSMetrics, model.MetricsData{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out := struct {
		Context model.RunContext  `json:"context"`
		Tasks   model.TasksData   `json:"tasks"`
		Metrics model.MetricsData `json:"metrics"`
	}{rc, tasks, metrics}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func cmdValidate(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" {
			i++
			configPath = args[i]
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// wireState loads config and constructs the StateStore per state.backend
// (spec.md §6: state.*), returning a cleanup that is currently a no-op but
// keeps the call site symmetric with buildSupervisor.
func wireState(f runFlags) (*config.RunConfig, *state.Store, string, func(), error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, "", nil, err
	}
	repoDir, err := filepath.Abs(f.repo)
	if err != nil {
		return nil, nil, "", nil, err
	}

	archDir := filepath.Join(repoDir, ".architect")
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		return nil, nil, "", nil, err
	}

	var backend state.Backend
	kind := cfg.State.Backend
	if !gitutil.IsRepo(repoDir) {
		kind = config.StateBackendLocal
	}
	switch kind {
	case config.StateBackendBranch:
		backend, err = state.NewBranchBackend(repoDir, cfg.State.BranchRef)
	case config.StateBackendLocal:
		backend, err = state.NewLocalBackend(filepath.Join(archDir, "state"))
	default:
		backend, err = state.NewNotesBackend(repoDir, "architect", filepath.Join(archDir, "notes-anchor"))
	}
	if err != nil {
		return nil, nil, "", nil, err
	}

	store := state.New(backend, archDir)
	return cfg, store, repoDir, func() {}, nil
}

// buildSupervisor wires config, state, patches, the resilient backend, and
// the fixed specialist roster into a Supervisor (spec.md §4.5, §4.3, §4.4).
func buildSupervisor(f runFlags) (*supervisor.Supervisor, func(), error) {
	cfg, store, repoDir, cleanup, err := wireState(f)
	if err != nil {
		return nil, nil, err
	}

	if gitutil.IsRepo(repoDir) {
		_ = gitutil.EnsureIdentity(repoDir)
	}
	patches := patch.New(repoDir, store)

	primary := dispatcher.AgentClient(dispatcher.NewCLIClient(cfg.Backend.Primary, cfg.Backend.Primary, repoDir, nil))
	var fallback dispatcher.AgentClient
	if cfg.Backend.Fallback != "" {
		fallback = dispatcher.NewCLIClient(cfg.Backend.Fallback, cfg.Backend.Fallback, repoDir, nil)
	}

	backend := &dispatcher.ResilientBackend{
		Primary:  primary,
		Fallback: fallback,
		Policy: dispatcher.RetryPolicy{
			MaxRetries:     cfg.Backend.MaxRetries,
			BackoffSeconds: cfg.Backend.RetryBackoffSeconds,
			TimeoutSeconds: cfg.Backend.TimeoutSeconds,
		},
		OnEvent: func(ev model.BackendEvent) { recordBackendEvent(store, ev) },
	}

	promptPath := func(role string) string {
		if f.promptsDir == "" {
			return ""
		}
		return filepath.Join(f.promptsDir, role+".md")
	}

	specialists := supervisor.Specialists{
		Planner:    specialist.New(model.RolePlanner, promptPath("planner"), f.model, backend),
		Coder:      specialist.New(model.RoleCoder, promptPath("coder"), f.model, backend),
		Tester:     specialist.New(model.RoleTester, promptPath("tester"), f.model, backend),
		Critic:     specialist.New(model.RoleCritic, promptPath("critic"), f.model, backend),
		Documenter: specialist.New(model.RoleDocumenter, promptPath("documenter"), f.model, backend),
		Supervisor: specialist.New(model.RoleSupervisor, promptPath("supervisor"), f.model, backend),
	}

	sup := supervisor.New(repoDir, filepath.Join(repoDir, ".architect", "runs"), store, patches, cfg, specialists, backend)
	return sup, cleanup, nil
}

// recordBackendEvent appends a dispatcher event into metrics.backend_events,
// bounded (spec.md §3).
func recordBackendEvent(store *state.Store, ev model.BackendEvent) {
	_, _ = state.Update(store, state.NSMetrics, model.MetricsData{}, func(m model.MetricsData) (model.MetricsData, error) {
		m.BackendEvents = append(m.BackendEvents, ev)
		if len(m.BackendEvents) > model.MaxBackendEvents {
			m.BackendEvents = m.BackendEvents[len(m.BackendEvents)-model.MaxBackendEvents:]
		}
		if ev.Kind == "backend_retry" {
			m.BackendRetryCount++
		}
		if ev.Kind == "backend_fallback_engaged" {
			m.BackendFallbackCount++
		}
		return m, nil
	})
}
