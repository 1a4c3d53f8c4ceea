package supervisor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/canburaks/arch/internal/config"
	"github.com/canburaks/arch/internal/model"
)

// matchesGlobAny mirrors internal/patch's guardrail matcher: a path matches
// if it or its basename satisfies any doublestar pattern.
func matchesGlobAny(patterns []string, path string) (string, bool) {
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if ok, _ := doublestar.Match(pat, path); ok {
			return pat, true
		}
		if ok, _ := doublestar.Match(pat, filepath.Base(path)); ok {
			return pat, true
		}
	}
	return "", false
}

// --- Path classification (spec.md §4.5.1 "Path classification") ---

var (
	testDirRe   = regexp.MustCompile(`(^|/)(tests|test|__tests__|spec|specs)/`)
	testFileRe  = regexp.MustCompile(`(^|/)test_[^/]+$`)
	testSuffixRe = regexp.MustCompile(`(_test\.py|\.test\.(js|jsx|ts|tsx)|\.spec\.(js|jsx|ts|tsx))$`)
	docDirRe    = regexp.MustCompile(`(^|/)(docs|doc|documentation)/`)
)

func isTestPath(p string) bool {
	return testDirRe.MatchString(p) || testFileRe.MatchString(p) || testSuffixRe.MatchString(p)
}

func isDocPath(p string) bool {
	base := filepath.Base(p)
	if strings.HasPrefix(base, "README") || strings.HasPrefix(base, "CHANGELOG") {
		return true
	}
	if docDirRe.MatchString(p) {
		return true
	}
	switch filepath.Ext(p) {
	case ".md", ".rst", ".adoc":
		return true
	}
	return false
}

// --- Review parsing (spec.md §4.5.1 "Review parsing") ---

type reviewCounts struct {
	Blocker    int
	Major      int
	Minor      int
	Suggestion int
}

type reviewJSONLine struct {
	Counts *struct {
		BLOCKER    int `json:"BLOCKER"`
		MAJOR      int `json:"MAJOR"`
		MINOR      int `json:"MINOR"`
		SUGGESTION int `json:"SUGGESTION"`
	} `json:"counts"`
	Severity string `json:"severity"`
	Findings []struct {
		Severity string `json:"severity"`
	} `json:"findings"`
}

var bareSeverityRe = regexp.MustCompile(`\b(BLOCKER|MAJOR|MINOR|SUGGESTION)\b`)

func bumpSeverity(c *reviewCounts, sev string) {
	switch strings.ToUpper(strings.TrimSpace(sev)) {
	case "BLOCKER":
		c.Blocker++
	case "MAJOR":
		c.Major++
	case "MINOR":
		c.Minor++
	case "SUGGESTION":
		c.Suggestion++
	}
}

func parseReview(output string) reviewCounts {
	var c reviewCounts
	foundJSON := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var rl reviewJSONLine
		if err := json.Unmarshal([]byte(line), &rl); err != nil {
			continue
		}
		foundJSON = true
		if rl.Counts != nil {
			c.Blocker += rl.Counts.BLOCKER
			c.Major += rl.Counts.MAJOR
			c.Minor += rl.Counts.MINOR
			c.Suggestion += rl.Counts.SUGGESTION
		}
		if rl.Severity != "" {
			bumpSeverity(&c, rl.Severity)
		}
		for _, f := range rl.Findings {
			bumpSeverity(&c, f.Severity)
		}
	}
	if foundJSON {
		return c
	}
	for _, m := range bareSeverityRe.FindAllString(output, -1) {
		bumpSeverity(&c, m)
	}
	return c
}

// --- Coverage parsing (spec.md §4.5.1 "Coverage parsing") ---

var coveragePercentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// parseCoverage scans combined stdout+stderr for a coverage percentage.
func parseCoverage(text string) (float64, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if v, ok := numField(raw, "coverage_percent"); ok {
			return clampPercent(v), true
		}
		if v, ok := numField(raw, "coverage"); ok {
			return clampPercent(v), true
		}
		if nested, ok := raw["coverage"].(map[string]any); ok {
			if v, ok := numField(nested, "percent"); ok {
				return clampPercent(v), true
			}
		}
	}
	best, found := -1.0, false
	for _, m := range coveragePercentRe.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return clampPercent(best), true
}

func numField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// --- Gates (spec.md §4.5.1) ---

func newGateResult(name, taskID string, passed bool, reason string, artifacts ...string) model.QualityGateResult {
	return model.QualityGateResult{
		Name: name, TaskID: taskID, Passed: passed, Reason: reason,
		Artifacts: artifacts, CheckedAt: time.Now().UTC(),
	}
}

var signalWords = []string{"interface", "risks", "analysis", "milestones"}

func planningGate(taskID, output string, steps []string, criticCounts *reviewCounts) model.QualityGateResult {
	if strings.TrimSpace(output) == "" {
		return newGateResult("planning_gate", taskID, false, "planner produced no output")
	}
	if len(steps) == 0 {
		return newGateResult("planning_gate", taskID, false, "no plan steps could be extracted")
	}
	if len(steps) < 2 {
		lower := strings.ToLower(output)
		var missing []string
		for _, w := range signalWords {
			if !strings.Contains(lower, w) {
				missing = append(missing, w)
			}
		}
		if len(missing) > 0 {
			return newGateResult("planning_gate", taskID, false,
				fmt.Sprintf("plan has fewer than 2 steps and is missing signals: %s", strings.Join(missing, ", ")))
		}
	}
	if criticCounts != nil && criticCounts.Blocker > 0 {
		return newGateResult("planning_gate", taskID, false,
			fmt.Sprintf("critic raised %d BLOCKER finding(s) on the plan", criticCounts.Blocker))
	}
	return newGateResult("planning_gate", taskID, true, "")
}

func implementationGate(taskID, output string, filesChanged []string, lintResult, typeCheckResult *CommandResult, cfg config.WorkflowConfig, guardrails config.GuardrailsConfig) model.QualityGateResult {
	if strings.TrimSpace(output) == "" {
		return newGateResult("implementation_gate", taskID, false, "coder produced no output")
	}
	if lintResult != nil && lintResult.ExitCode != 0 {
		return newGateResult("implementation_gate", taskID, false,
			fmt.Sprintf("lint command exited %d", lintResult.ExitCode), lintResult.StderrTail)
	}
	if typeCheckResult != nil && typeCheckResult.ExitCode != 0 {
		return newGateResult("implementation_gate", taskID, false,
			fmt.Sprintf("type_check command exited %d", typeCheckResult.ExitCode), typeCheckResult.StderrTail)
	}
	if guardrails.MaxFileChangesPerPatch > 0 && len(filesChanged) > guardrails.MaxFileChangesPerPatch {
		return newGateResult("implementation_gate", taskID, false,
			fmt.Sprintf("patch touched %d files, exceeding max_file_changes_per_patch=%d", len(filesChanged), guardrails.MaxFileChangesPerPatch))
	}
	for _, f := range filesChanged {
		if pat, ok := matchesGlobAny(guardrails.ForbiddenPaths, f); ok {
			return newGateResult("implementation_gate", taskID, false,
				fmt.Sprintf("path %q matches forbidden pattern %q", f, pat))
		}
	}
	return newGateResult("implementation_gate", taskID, true, "")
}

func testingGate(taskID string, testResult *CommandResult, cfg config.WorkflowConfig) model.QualityGateResult {
	if cfg.AutoTest {
		if testResult == nil {
			return newGateResult("testing_gate", taskID, false, "test command did not run")
		}
		if testResult.ExitCode != 0 {
			return newGateResult("testing_gate", taskID, false,
				fmt.Sprintf("test command exited %d", testResult.ExitCode), testResult.StderrTail)
		}
	}
	if cfg.TestCoverageThreshold > 0 && testResult != nil {
		pct, found := parseCoverage(testResult.StdoutTail + "\n" + testResult.StderrTail)
		if !found {
			return newGateResult("testing_gate", taskID, false, "test_coverage_threshold is set but no coverage figure was reported")
		}
		if pct < cfg.TestCoverageThreshold {
			return newGateResult("testing_gate", taskID, false,
				fmt.Sprintf("coverage %.1f%% is below threshold %.1f%%", pct, cfg.TestCoverageThreshold))
		}
	}
	return newGateResult("testing_gate", taskID, true, "")
}

func reviewGate(taskID, output string, filesChanged []string, cfg config.WorkflowConfig, guardrails config.GuardrailsConfig) model.QualityGateResult {
	counts := parseReview(output)
	if cfg.RequireCriticApproval && counts.Blocker > 0 {
		return newGateResult("review_gate", taskID, false, fmt.Sprintf("%d BLOCKER finding(s)", counts.Blocker))
	}
	if counts.Major > cfg.ReviewMaxMajorFindings {
		return newGateResult("review_gate", taskID, false,
			fmt.Sprintf("%d MAJOR finding(s) exceeds review_max_major_findings=%d", counts.Major, cfg.ReviewMaxMajorFindings))
	}

	patterns := cfg.ReviewDocsPatterns
	testPatterns := guardrails.RequireTestsFor
	hasSource, hasTest := false, false
	for _, f := range filesChanged {
		if isTestPath(f) {
			hasTest = true
			continue
		}
		if _, ok := matchesGlobAny(testPatterns, f); ok {
			hasSource = true
		}
	}
	if hasSource && !hasTest && len(testPatterns) > 0 {
		return newGateResult("review_gate", taskID, false, "changed files require accompanying tests but none were found")
	}

	sourceTouched := false
	for _, f := range filesChanged {
		if !isTestPath(f) && !isDocPath(f) {
			sourceTouched = true
			break
		}
	}
	if cfg.ReviewRequireDocsUpdate && sourceTouched {
		if !anyPathMatchesOrIsDoc(filesChanged, patterns) {
			return newGateResult("review_gate", taskID, false, "review_require_docs_update is set but no doc evidence file changed")
		}
	}
	if cfg.ReviewRequireChangelog && sourceTouched {
		if !anyPathMatchesOrIsDoc(filesChanged, cfg.ReviewChangelogPatterns) {
			return newGateResult("review_gate", taskID, false, "review_require_changelog_update is set but no changelog evidence file changed")
		}
	}
	return newGateResult("review_gate", taskID, true, "")
}

func documentationGate(taskID, output string, sourceTouchedThisRun bool) model.QualityGateResult {
	if strings.TrimSpace(output) == "" {
		return newGateResult("documentation_gate", taskID, false, "documenter produced no output")
	}
	if sourceTouchedThisRun {
		lower := strings.ToLower(output)
		if !strings.Contains(lower, "doc") && !strings.Contains(lower, "readme") && !strings.Contains(lower, "changelog") {
			return newGateResult("documentation_gate", taskID, false, "source files changed but no doc/readme/changelog mention was found")
		}
	}
	return newGateResult("documentation_gate", taskID, true, "")
}

func anyPathMatchesOrIsDoc(paths, patterns []string) bool {
	for _, p := range paths {
		if isDocPath(p) {
			return true
		}
		if _, ok := matchesGlobAny(patterns, p); ok {
			return true
		}
	}
	return false
}
