package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "architect.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
project:
  test_command: "go test ./..."
backend:
  primary: claude-cli
state:
  backend: local
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.MaxRetries != 1 {
		t.Errorf("backend.max_retries default = %d, want 1", cfg.Backend.MaxRetries)
	}
	if cfg.Workflow.BranchStrategy != BranchAuxiliary {
		t.Errorf("workflow.branch_strategy default = %s, want auxiliary_branches", cfg.Workflow.BranchStrategy)
	}
	if cfg.Workflow.DirtyWorktreeMode != DirtyRefuse {
		t.Errorf("workflow.dirty_worktree_mode default = %s, want refuse", cfg.Workflow.DirtyWorktreeMode)
	}
	if cfg.Guardrails.MaxFileChangesPerPatch != 50 {
		t.Errorf("guardrails.max_file_changes_per_patch default = %d, want 50", cfg.Guardrails.MaxFileChangesPerPatch)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
project:
  test_command: "go test ./..."
backend:
  primary: claude-cli
state:
  backend: local
bogus_top_level_key: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognized top-level key")
	}
}

func TestLoad_RejectsInvalidEnum(t *testing.T) {
	path := writeConfig(t, `
project: {}
backend:
  primary: claude-cli
state:
  backend: local
workflow:
  branch_strategy: not_a_real_strategy
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected schema validation to reject an invalid branch_strategy")
	}
}

func TestLoad_RequiresBackendPrimary(t *testing.T) {
	path := writeConfig(t, `
project: {}
backend: {}
state:
  backend: local
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected schema validation to reject a missing backend.primary")
	}
}
