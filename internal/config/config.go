// Package config loads and validates the RunConfig recognized by the core
// (spec.md §6): a strict YAML decode, followed by JSON-Schema validation,
// then defaulting, then semantic validation -- mirroring the teacher's
// engine/config.go pipeline.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BranchStrategy selects how the Supervisor manages run branches.
type BranchStrategy string

const (
	BranchAuxiliary BranchStrategy = "auxiliary_branches"
	BranchCurrent   BranchStrategy = "current_branch"
)

// DirtyWorktreeMode selects how a dirty worktree is handled at run start.
type DirtyWorktreeMode string

const (
	DirtyRefuse  DirtyWorktreeMode = "refuse"
	DirtyIsolate DirtyWorktreeMode = "isolate"
)

// FallbackArtifactMode selects what a task with no worktree diff produces.
type FallbackArtifactMode string

const (
	FallbackModeTracked   FallbackArtifactMode = "tracked"
	FallbackModeLocalOnly FallbackArtifactMode = "local_only"
)

// StateBackendKind selects the StateStore backend (spec.md §6).
type StateBackendKind string

const (
	StateBackendNotes  StateBackendKind = "notes"
	StateBackendBranch StateBackendKind = "branch"
	StateBackendLocal  StateBackendKind = "local"
)

// ProjectConfig holds the gate commands (spec.md §6: project.*).
type ProjectConfig struct {
	LintCommand      string `yaml:"lint_command,omitempty" json:"lint_command,omitempty"`
	TypeCheckCommand string `yaml:"type_check_command,omitempty" json:"type_check_command,omitempty"`
	TestCommand      string `yaml:"test_command,omitempty" json:"test_command,omitempty"`
}

// BackendConfig configures the BackendDispatcher (spec.md §6: backend.*).
type BackendConfig struct {
	Primary             string  `yaml:"primary" json:"primary"`
	Fallback            string  `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	MaxRetries          int     `yaml:"max_retries" json:"max_retries"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds" json:"retry_backoff_seconds"`
	TimeoutSeconds      float64 `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// WorkflowConfig configures the Supervisor's scheduling/review policy
// (spec.md §6: workflow.*).
type WorkflowConfig struct {
	MaxPatchesBeforeReview   int                   `yaml:"max_patches_before_review,omitempty" json:"max_patches_before_review,omitempty"`
	AutoTest                 bool                  `yaml:"auto_test" json:"auto_test"`
	AutoLint                 bool                  `yaml:"auto_lint" json:"auto_lint"`
	RequireCriticApproval    bool                  `yaml:"require_critic_approval" json:"require_critic_approval"`
	PlanRequiresCritic       bool                  `yaml:"plan_requires_critic" json:"plan_requires_critic"`
	TestCoverageThreshold    float64               `yaml:"test_coverage_threshold,omitempty" json:"test_coverage_threshold,omitempty"`
	ReviewMaxMajorFindings   int                   `yaml:"review_max_major_findings,omitempty" json:"review_max_major_findings,omitempty"`
	ReviewRequireDocsUpdate  bool                  `yaml:"review_require_docs_update" json:"review_require_docs_update"`
	ReviewRequireChangelog   bool                  `yaml:"review_require_changelog_update" json:"review_require_changelog_update"`
	ReviewDocsPatterns       []string              `yaml:"review_docs_patterns,omitempty" json:"review_docs_patterns,omitempty"`
	ReviewChangelogPatterns  []string              `yaml:"review_changelog_patterns,omitempty" json:"review_changelog_patterns,omitempty"`
	MaxParallelTasks         int                   `yaml:"max_parallel_tasks,omitempty" json:"max_parallel_tasks,omitempty"`
	TaskMaxAttempts          int                   `yaml:"task_max_attempts,omitempty" json:"task_max_attempts,omitempty"`
	TaskRetryBackoffSeconds  float64               `yaml:"task_retry_backoff_seconds,omitempty" json:"task_retry_backoff_seconds,omitempty"`
	MaxConflictCycles        int                   `yaml:"max_conflict_cycles,omitempty" json:"max_conflict_cycles,omitempty"`
	BranchStrategy           BranchStrategy        `yaml:"branch_strategy,omitempty" json:"branch_strategy,omitempty"`
	DirtyWorktreeMode        DirtyWorktreeMode     `yaml:"dirty_worktree_mode,omitempty" json:"dirty_worktree_mode,omitempty"`
	FallbackArtifactMode     FallbackArtifactMode  `yaml:"fallback_artifact_mode,omitempty" json:"fallback_artifact_mode,omitempty"`
	TrackedFallbackDir       string                `yaml:"tracked_fallback_dir,omitempty" json:"tracked_fallback_dir,omitempty"`
}

// GuardrailsConfig configures PatchStack guardrails (spec.md §6: guardrails.*).
type GuardrailsConfig struct {
	MaxFileChangesPerPatch int      `yaml:"max_file_changes_per_patch,omitempty" json:"max_file_changes_per_patch,omitempty"`
	ForbiddenPaths         []string `yaml:"forbidden_paths,omitempty" json:"forbidden_paths,omitempty"`
	RequireTestsFor        []string `yaml:"require_tests_for,omitempty" json:"require_tests_for,omitempty"`
}

// StateConfig configures the StateStore backend (spec.md §6: state.*).
type StateConfig struct {
	Backend   StateBackendKind `yaml:"backend" json:"backend"`
	BranchRef string           `yaml:"branch_ref,omitempty" json:"branch_ref,omitempty"`
}

// RunConfig is the full configuration recognized by the core.
type RunConfig struct {
	Project    ProjectConfig    `yaml:"project" json:"project"`
	Backend    BackendConfig    `yaml:"backend" json:"backend"`
	Workflow   WorkflowConfig   `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Guardrails GuardrailsConfig `yaml:"guardrails,omitempty" json:"guardrails,omitempty"`
	State      StateConfig      `yaml:"state" json:"state"`
}

// Load reads path (.yaml/.yml/.json, decoded strictly), schema-validates,
// applies defaults, and semantically validates the result.
func Load(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg RunConfig
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	raw, err := toJSONForSchema(b, ext)
	if err != nil {
		return nil, fmt.Errorf("normalize config %s for schema validation: %w", path, err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, fmt.Errorf("config %s failed schema validation: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validateSemantics(&cfg); err != nil {
		return nil, fmt.Errorf("config %s failed validation: %w", path, err)
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *RunConfig) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *RunConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

// toJSONForSchema re-encodes the raw config bytes as canonical JSON for the
// jsonschema compiler, which operates on decoded JSON values.
func toJSONForSchema(b []byte, ext string) (any, error) {
	if ext == ".json" {
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return yamlToJSONSafe(v), nil
}

// yamlToJSONSafe converts yaml.v3's map[string]interface{} decode output
// (which may contain map[interface{}]interface{} in some edge cases) into a
// structure encodable by encoding/json.
func yamlToJSONSafe(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = yamlToJSONSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = yamlToJSONSafe(val)
		}
		return out
	default:
		return vv
	}
}

func applyDefaults(cfg *RunConfig) {
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = 1
	}
	if cfg.Backend.RetryBackoffSeconds == 0 {
		cfg.Backend.RetryBackoffSeconds = 1
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 120
	}
	if cfg.Workflow.MaxParallelTasks == 0 {
		cfg.Workflow.MaxParallelTasks = 1
	}
	if cfg.Workflow.TaskMaxAttempts == 0 {
		cfg.Workflow.TaskMaxAttempts = 3
	}
	if cfg.Workflow.TaskRetryBackoffSeconds == 0 {
		cfg.Workflow.TaskRetryBackoffSeconds = 2
	}
	if cfg.Workflow.MaxConflictCycles == 0 {
		cfg.Workflow.MaxConflictCycles = 3
	}
	if cfg.Workflow.BranchStrategy == "" {
		cfg.Workflow.BranchStrategy = BranchAuxiliary
	}
	if cfg.Workflow.DirtyWorktreeMode == "" {
		cfg.Workflow.DirtyWorktreeMode = DirtyRefuse
	}
	if cfg.Workflow.FallbackArtifactMode == "" {
		cfg.Workflow.FallbackArtifactMode = FallbackModeTracked
	}
	if cfg.Workflow.TrackedFallbackDir == "" {
		cfg.Workflow.TrackedFallbackDir = ".architect/fallback"
	}
	if cfg.Workflow.MaxPatchesBeforeReview == 0 {
		cfg.Workflow.MaxPatchesBeforeReview = 10
	}
	if cfg.Workflow.ReviewMaxMajorFindings == 0 {
		cfg.Workflow.ReviewMaxMajorFindings = 0
	}
	if cfg.Guardrails.MaxFileChangesPerPatch == 0 {
		cfg.Guardrails.MaxFileChangesPerPatch = 50
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = StateBackendLocal
	}
	if cfg.State.Backend == StateBackendBranch && cfg.State.BranchRef == "" {
		cfg.State.BranchRef = "refs/heads/architect/state"
	}
}

func validateSemantics(cfg *RunConfig) error {
	if strings.TrimSpace(cfg.Backend.Primary) == "" {
		return fmt.Errorf("backend.primary is required")
	}
	if cfg.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must be >= 0")
	}
	if cfg.Backend.RetryBackoffSeconds < 0 {
		return fmt.Errorf("backend.retry_backoff_seconds must be >= 0")
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	switch cfg.Workflow.BranchStrategy {
	case BranchAuxiliary, BranchCurrent:
	default:
		return fmt.Errorf("invalid workflow.branch_strategy: %q", cfg.Workflow.BranchStrategy)
	}
	switch cfg.Workflow.DirtyWorktreeMode {
	case DirtyRefuse, DirtyIsolate:
	default:
		return fmt.Errorf("invalid workflow.dirty_worktree_mode: %q", cfg.Workflow.DirtyWorktreeMode)
	}
	switch cfg.Workflow.FallbackArtifactMode {
	case FallbackModeTracked, FallbackModeLocalOnly:
	default:
		return fmt.Errorf("invalid workflow.fallback_artifact_mode: %q", cfg.Workflow.FallbackArtifactMode)
	}
	if cfg.Workflow.MaxParallelTasks < 1 {
		return fmt.Errorf("workflow.max_parallel_tasks must be >= 1")
	}
	if cfg.Workflow.TaskMaxAttempts < 1 {
		return fmt.Errorf("workflow.task_max_attempts must be >= 1")
	}
	if cfg.Workflow.TestCoverageThreshold < 0 || cfg.Workflow.TestCoverageThreshold > 100 {
		return fmt.Errorf("workflow.test_coverage_threshold must be within [0, 100]")
	}
	switch cfg.State.Backend {
	case StateBackendNotes, StateBackendBranch, StateBackendLocal:
	default:
		return fmt.Errorf("invalid state.backend: %q", cfg.State.Backend)
	}
	if cfg.Guardrails.MaxFileChangesPerPatch < 0 {
		return fmt.Errorf("guardrails.max_file_changes_per_patch must be >= 0")
	}
	return nil
}
