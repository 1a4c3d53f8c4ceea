// Package gitutil wraps the git CLI with the small set of plumbing operations
// the state store and patch stack need: status, commits, notes, branches,
// tags, and reverts. Every call shells out to the system git binary rather
// than linking a git implementation, matching the teacher's approach.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandError wraps a failed git invocation with its captured output.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	// Disable git's background auto-maintenance so frequent checkpoint/patch
	// commits stay deterministic and don't spawn stray gc helpers.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// IsRepo reports whether dir is inside a git working tree.
func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

// HeadSHA returns the full SHA of HEAD.
func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RevParse resolves an arbitrary ref (branch, tag, commit-ish) to a full SHA.
func RevParse(dir, ref string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the name of the checked-out branch, or "" if detached.
func CurrentBranch(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "HEAD" {
		return "", nil
	}
	return name, nil
}

// StatusPorcelain returns `git status --porcelain` output.
func StatusPorcelain(dir string) (string, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return out, nil
}

// StatusPaths parses `git status --porcelain` into a flat list of changed paths.
func StatusPaths(dir string) ([]string, error) {
	out, err := StatusPorcelain(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}
		// Renames report as "old -> new"; keep the destination path.
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// IsClean reports whether the worktree has no pending changes.
func IsClean(dir string) (bool, error) {
	out, err := StatusPorcelain(dir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// CreateBranchAt force-creates (or resets) branch to point at baseSHA.
func CreateBranchAt(dir, branch, baseSHA string) error {
	_, _, err := runGit(dir, "branch", "--force", branch, baseSHA)
	return err
}

// SwitchCreate creates and checks out a new branch at HEAD (or baseRef if non-empty).
func SwitchCreate(dir, branch, baseRef string) error {
	args := []string{"switch", "-c", branch}
	if strings.TrimSpace(baseRef) != "" {
		args = append(args, baseRef)
	}
	_, _, err := runGit(dir, args...)
	return err
}

// Switch checks out an existing branch without creating it.
func Switch(dir, branch string) error {
	_, _, err := runGit(dir, "switch", branch)
	return err
}

// ResetHard resets HEAD and the worktree to sha, discarding local changes.
// Used only to restore the pre-attempt state after a failed revert.
func ResetHard(dir, sha string) error {
	_, _, err := runGit(dir, "reset", "--hard", sha)
	return err
}

// AddAll stages every change in the worktree (tracked and untracked).
func AddAll(dir string) error {
	_, _, err := runGit(dir, "add", "-A")
	return err
}

// AddPaths stages the given paths only.
func AddPaths(dir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	_, _, err := runGit(dir, args...)
	return err
}

// StagedFiles lists paths currently staged relative to HEAD.
func StagedFiles(dir string) ([]string, error) {
	out, _, err := runGit(dir, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// ResetMixed unstages everything without touching the worktree.
func ResetMixed(dir string) error {
	_, _, err := runGit(dir, "reset")
	return err
}

// Stash stashes the named paths (used to re-isolate dirty paths before commit).
func Stash(dir string, paths []string) error {
	args := append([]string{"stash", "push", "--include-untracked", "--"}, paths...)
	_, _, err := runGit(dir, args...)
	return err
}

// StashPopLatest restores the most recent stash.
func StashPopLatest(dir string) error {
	_, _, err := runGit(dir, "stash", "pop")
	return err
}

// CommitStaged commits whatever is currently staged (no --allow-empty unless
// allowEmpty is set) and returns the new commit's SHA.
func CommitStaged(dir, subject, body string, allowEmpty bool) (string, error) {
	message := subject
	if strings.TrimSpace(body) != "" {
		message = subject + "\n\n" + body
	}
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	_, _, err := runGit(dir, args...)
	if err != nil {
		if isIdentityError(err) {
			fallback := append([]string{
				"-c", "user.name=architect",
				"-c", "user.email=architect@local",
			}, args...)
			if _, _, err2 := runGit(dir, fallback...); err2 != nil {
				return "", err2
			}
		} else {
			return "", err
		}
	}
	return HeadSHA(dir)
}

func isIdentityError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Author identity unknown") ||
		strings.Contains(msg, "Please tell me who you are") ||
		strings.Contains(msg, "unable to auto-detect email address")
}

// DiffNameOnly returns tracked file paths that differ between baseRef and the
// working tree (between the index and the working tree when baseRef is empty).
func DiffNameOnly(dir, baseRef string) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if strings.TrimSpace(baseRef) != "" {
		args = append(args, baseRef)
	}
	out, _, err := runGit(dir, args...)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// CommitFiles returns the files a single commit touched.
func CommitFiles(dir, commitSHA string) ([]string, error) {
	out, _, err := runGit(dir, "show", "--no-patch", "--name-only", "--format=", commitSHA)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// LogEntry is one row of a commit log.
type LogEntry struct {
	SHA     string
	Subject string
}

// Log returns commits in `baseRef..HEAD` order (oldest first), or the full
// HEAD history if baseRef is empty.
func Log(dir, baseRef string) ([]LogEntry, error) {
	rangeArg := "HEAD"
	if strings.TrimSpace(baseRef) != "" {
		rangeArg = baseRef + "..HEAD"
	}
	out, _, err := runGit(dir, "log", "--reverse", "--format=%H%x1f%s", rangeArg)
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	for _, line := range splitNonEmptyLines(out) {
		parts := strings.SplitN(line, "\x1f", 2)
		if len(parts) != 2 {
			continue
		}
		entries = append(entries, LogEntry{SHA: parts[0], Subject: parts[1]})
	}
	return entries, nil
}

// Revert creates a new commit that undoes commitSHA, without editor interaction.
func Revert(dir, commitSHA string) (string, error) {
	_, _, err := runGit(dir, "revert", "--no-edit", commitSHA)
	if err != nil {
		_, _, _ = runGit(dir, "revert", "--abort")
		return "", err
	}
	return HeadSHA(dir)
}

// Tag creates a new lightweight tag at HEAD.
func Tag(dir, name string) error {
	_, _, err := runGit(dir, "tag", name)
	return err
}

// TagSHA resolves a tag to its commit SHA.
func TagSHA(dir, name string) (string, error) {
	return RevParse(dir, name)
}

// ListTags lists tags matching a glob pattern (e.g. "architect/*"), oldest
// creation order is not guaranteed by git tag listing so callers sort by
// their own embedded timestamp suffix when order matters.
func ListTags(dir, pattern string) ([]string, error) {
	out, _, err := runGit(dir, "tag", "--list", pattern)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// NotesShow returns the body of the note attached to ref's HEAD under the
// given notes ref, or ("", false, nil) if no note exists yet.
func NotesShow(dir, notesRef, ref string) (string, bool, error) {
	out, _, err := runGit(dir, "notes", "--ref="+notesRef, "show", ref)
	if err != nil {
		if strings.Contains(err.Error(), "no note found") {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// NotesAddForce force-overwrites the note on ref under notesRef with content.
func NotesAddForce(dir, notesRef, ref, content string) error {
	_, _, err := runGit(dir, "notes", "--ref="+notesRef, "add", "-f", "-m", content, ref)
	return err
}

// EnsureIdentity sets a fallback committer identity scoped to the repo's
// local config, only if user.name/user.email are unset.
func EnsureIdentity(dir string) error {
	name, _, _ := runGit(dir, "config", "--get", "user.name")
	email, _, _ := runGit(dir, "config", "--get", "user.email")
	if strings.TrimSpace(name) == "" {
		_, _, _ = runGit(dir, "config", "user.name", "architect")
	}
	if strings.TrimSpace(email) == "" {
		_, _, _ = runGit(dir, "config", "user.email", "architect@local")
	}
	return nil
}

// AnchorBlobSHA writes content as a git blob object (without touching the
// index or worktree) and returns its SHA, used by the notes-backed state
// store to pin a stable anchor commit for namespace notes.
func AnchorBlobSHA(dir, content string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "hash-object", "-w", "--stdin")
	cmd.Stdin = strings.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: []string{"hash-object", "-w", "--stdin"}, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ShortSHA returns the first n hex characters of a SHA (or the whole string
// if it's already shorter).
func ShortSHA(sha string, n int) string {
	if len(sha) <= n {
		return sha
	}
	return sha[:n]
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseIntDefault parses s as an int, returning def on failure. Kept here
// (rather than strconv at call sites) because several gitutil callers parse
// small integers out of porcelain/plumbing output.
func ParseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}
