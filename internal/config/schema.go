package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchemaJSON declares the recognized shape of RunConfig (spec.md §6):
// required top-level project/backend/state blocks, and enumerated values for
// the workflow/state fields that take a fixed vocabulary.
const configSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["project", "backend", "state"],
  "properties": {
    "project": {
      "type": "object",
      "properties": {
        "lint_command": {"type": "string"},
        "type_check_command": {"type": "string"},
        "test_command": {"type": "string"}
      }
    },
    "backend": {
      "type": "object",
      "required": ["primary"],
      "properties": {
        "primary": {"type": "string", "minLength": 1},
        "fallback": {"type": "string"},
        "max_retries": {"type": "integer", "minimum": 0},
        "retry_backoff_seconds": {"type": "number", "minimum": 0},
        "timeout_seconds": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "workflow": {
      "type": "object",
      "properties": {
        "max_patches_before_review": {"type": "integer", "minimum": 0},
        "auto_test": {"type": "boolean"},
        "auto_lint": {"type": "boolean"},
        "require_critic_approval": {"type": "boolean"},
        "plan_requires_critic": {"type": "boolean"},
        "test_coverage_threshold": {"type": "number", "minimum": 0, "maximum": 100},
        "review_max_major_findings": {"type": "integer", "minimum": 0},
        "review_require_docs_update": {"type": "boolean"},
        "review_require_changelog_update": {"type": "boolean"},
        "review_docs_patterns": {"type": "array", "items": {"type": "string"}},
        "review_changelog_patterns": {"type": "array", "items": {"type": "string"}},
        "max_parallel_tasks": {"type": "integer", "minimum": 1},
        "task_max_attempts": {"type": "integer", "minimum": 1},
        "task_retry_backoff_seconds": {"type": "number", "minimum": 0},
        "max_conflict_cycles": {"type": "integer", "minimum": 0},
        "branch_strategy": {"enum": ["auxiliary_branches", "current_branch"]},
        "dirty_worktree_mode": {"enum": ["refuse", "isolate"]},
        "fallback_artifact_mode": {"enum": ["tracked", "local_only"]},
        "tracked_fallback_dir": {"type": "string"}
      }
    },
    "guardrails": {
      "type": "object",
      "properties": {
        "max_file_changes_per_patch": {"type": "integer", "minimum": 0},
        "forbidden_paths": {"type": "array", "items": {"type": "string"}},
        "require_tests_for": {"type": "array", "items": {"type": "string"}}
      }
    },
    "state": {
      "type": "object",
      "required": ["backend"],
      "properties": {
        "backend": {"enum": ["notes", "branch", "local"]},
        "branch_ref": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce    sync.Once
	compiled      *jsonschema.Schema
	compileErr    error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config-schema.json", strings.NewReader(configSchemaJSON)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile("config-schema.json")
	})
	return compiled, compileErr
}

// ValidateSchema checks raw (a decoded JSON value: map[string]any / etc)
// against the bundled config schema, compiled once per process.
func ValidateSchema(raw any) error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return err
	}
	return nil
}
