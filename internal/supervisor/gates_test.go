package supervisor

import (
	"testing"

	"github.com/canburaks/arch/internal/config"
)

func TestIsTestAndDocPath(t *testing.T) {
	cases := []struct {
		path   string
		isTest bool
		isDoc  bool
	}{
		{"internal/foo/foo_test.py", true, false},
		{"tests/test_widget.py", true, false},
		{"src/widget.spec.ts", true, false},
		{"docs/guide.md", false, true},
		{"README.md", false, true},
		{"internal/foo/foo.go", false, false},
	}
	for _, c := range cases {
		if got := isTestPath(c.path); got != c.isTest {
			t.Fatalf("isTestPath(%q) = %v, want %v", c.path, got, c.isTest)
		}
		if got := isDocPath(c.path); got != c.isDoc {
			t.Fatalf("isDocPath(%q) = %v, want %v", c.path, got, c.isDoc)
		}
	}
}

func TestParseReview_JSONAndFallback(t *testing.T) {
	jsonLine := `{"counts": {"BLOCKER": 1, "MAJOR": 2, "MINOR": 0, "SUGGESTION": 1}}`
	c := parseReview(jsonLine)
	if c.Blocker != 1 || c.Major != 2 || c.Suggestion != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}

	prose := "BLOCKER: unchecked error. MAJOR: missing validation. MAJOR: racy cache."
	c = parseReview(prose)
	if c.Blocker != 1 || c.Major != 2 {
		t.Fatalf("unexpected fallback counts: %+v", c)
	}
}

func TestParseCoverage_JSONAndFallback(t *testing.T) {
	if v, ok := parseCoverage(`{"coverage_percent": 87.5}`); !ok || v != 87.5 {
		t.Fatalf("coverage_percent: got %v, %v", v, ok)
	}
	if v, ok := parseCoverage("total coverage: 150%"); !ok || v != 100 {
		t.Fatalf("coverage should clamp to 100, got %v, %v", v, ok)
	}
	if _, ok := parseCoverage("no numbers here"); ok {
		t.Fatalf("expected no coverage figure found")
	}
}

func TestPlanningGate(t *testing.T) {
	if g := planningGate("task-plan-001", "", nil, nil); g.Passed {
		t.Fatalf("empty output should fail the gate")
	}
	if g := planningGate("task-plan-001", "some prose", nil, nil); g.Passed {
		t.Fatalf("no extractable steps should fail the gate")
	}
	steps := []string{"step one", "step two"}
	if g := planningGate("task-plan-001", "- step one\n- step two", steps, nil); !g.Passed {
		t.Fatalf("two clear steps should pass: %+v", g)
	}
	blocked := &reviewCounts{Blocker: 1}
	if g := planningGate("task-plan-001", "- step one\n- step two", steps, blocked); g.Passed {
		t.Fatalf("a BLOCKER critic finding should fail the gate")
	}
}

func TestImplementationGate_Guardrails(t *testing.T) {
	cfg := config.WorkflowConfig{}
	guardrails := config.GuardrailsConfig{MaxFileChangesPerPatch: 1, ForbiddenPaths: []string{"secrets/*"}}

	if g := implementationGate("t1", "", nil, nil, nil, cfg, guardrails); g.Passed {
		t.Fatalf("empty output should fail")
	}
	if g := implementationGate("t1", "did the thing", []string{"a.go", "b.go"}, nil, nil, cfg, guardrails); g.Passed {
		t.Fatalf("exceeding max_file_changes_per_patch should fail")
	}
	if g := implementationGate("t1", "did the thing", []string{"secrets/key.pem"}, nil, nil, cfg, guardrails); g.Passed {
		t.Fatalf("forbidden path should fail")
	}
	if g := implementationGate("t1", "did the thing", []string{"a.go"}, nil, nil, cfg, guardrails); !g.Passed {
		t.Fatalf("clean single-file change should pass: %+v", g)
	}
}

func TestTestingGate_CoverageThreshold(t *testing.T) {
	cfg := config.WorkflowConfig{AutoTest: true, TestCoverageThreshold: 90}
	passing := &CommandResult{ExitCode: 0, StdoutTail: `{"coverage_percent": 95}`}
	failing := &CommandResult{ExitCode: 0, StdoutTail: `{"coverage_percent": 50}`}

	if g := testingGate("t1", passing, cfg); !g.Passed {
		t.Fatalf("95%% coverage should clear a 90%% threshold: %+v", g)
	}
	if g := testingGate("t1", failing, cfg); g.Passed {
		t.Fatalf("50%% coverage should not clear a 90%% threshold")
	}
	if g := testingGate("t1", nil, cfg); g.Passed {
		t.Fatalf("auto_test set with no result should fail")
	}
}

func TestReviewGate_MajorFindingsAndDocsRequirement(t *testing.T) {
	cfg := config.WorkflowConfig{ReviewMaxMajorFindings: 1, ReviewRequireDocsUpdate: true, ReviewDocsPatterns: []string{"docs/**"}}
	guardrails := config.GuardrailsConfig{}

	tooManyMajor := `{"counts": {"MAJOR": 2}}`
	if g := reviewGate("t1", tooManyMajor, []string{"a.go"}, cfg, guardrails); g.Passed {
		t.Fatalf("2 MAJOR findings should exceed review_max_major_findings=1")
	}

	clean := `{"counts": {"MAJOR": 0}}`
	if g := reviewGate("t1", clean, []string{"a.go"}, cfg, guardrails); g.Passed {
		t.Fatalf("source touched without a docs update should fail when review_require_docs_update is set")
	}
	if g := reviewGate("t1", clean, []string{"a.go", "docs/guide.md"}, cfg, guardrails); !g.Passed {
		t.Fatalf("source change accompanied by a docs update should pass: %+v", g)
	}
}

func TestDocumentationGate(t *testing.T) {
	if g := documentationGate("t1", "", true); g.Passed {
		t.Fatalf("empty output should fail")
	}
	if g := documentationGate("t1", "updated the changelog with the new behavior", true); !g.Passed {
		t.Fatalf("mention of changelog should pass: %+v", g)
	}
	if g := documentationGate("t1", "nothing relevant here", true); g.Passed {
		t.Fatalf("source touched with no doc mention should fail")
	}
	if g := documentationGate("t1", "nothing relevant here", false); !g.Passed {
		t.Fatalf("no source touched this run should pass regardless: %+v", g)
	}
}
