package gitutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func writeAndCommit(t *testing.T, dir, name, content, subject string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := AddAll(dir); err != nil {
		t.Fatal(err)
	}
	sha, err := CommitStaged(dir, subject, "", false)
	if err != nil {
		t.Fatal(err)
	}
	return sha
}

func TestDiffNameOnly(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, dir, "new.txt", "new", "add new file")

	files, err := DiffNameOnly(dir, baseSHA)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "new.txt" {
		t.Errorf("DiffNameOnly = %v, want [new.txt]", files)
	}
}

func TestDiffNameOnly_NoChanges(t *testing.T) {
	dir := initTestRepo(t)
	sha, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	files, err := DiffNameOnly(dir, sha)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("DiffNameOnly with no changes = %v, want []", files)
	}
}

func TestLogAndRevert(t *testing.T) {
	dir := initTestRepo(t)
	first := writeAndCommit(t, dir, "a.txt", "a", "first")
	second := writeAndCommit(t, dir, "b.txt", "b", "second")

	entries, err := Log(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("Log = %v, want >= 2 entries", entries)
	}
	if entries[len(entries)-1].SHA != second {
		t.Errorf("last log entry SHA = %s, want %s", entries[len(entries)-1].SHA, second)
	}

	revertSHA, err := Revert(dir, second)
	if err != nil {
		t.Fatal(err)
	}
	head, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if head != revertSHA {
		t.Errorf("HEAD = %s, want revert commit %s", head, revertSHA)
	}
	// The reverted commit must remain reachable.
	if _, err := RevParse(dir, second); err != nil {
		t.Errorf("reverted commit %s no longer reachable: %v", second, err)
	}
	_ = first
}

func TestTagAndList(t *testing.T) {
	dir := initTestRepo(t)
	if err := Tag(dir, "architect/checkpoint-1"); err != nil {
		t.Fatal(err)
	}
	tags, err := ListTags(dir, "architect/*")
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0] != "architect/checkpoint-1" {
		t.Errorf("ListTags = %v, want [architect/checkpoint-1]", tags)
	}
}

func TestNotesRoundTrip(t *testing.T) {
	dir := initTestRepo(t)
	head, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := NotesAddForce(dir, "refs/notes/architect/tasks", head, `{"a":1}`); err != nil {
		t.Fatal(err)
	}
	body, ok, err := NotesShow(dir, "refs/notes/architect/tasks", head)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected note to exist")
	}
	if body == "" {
		t.Error("expected non-empty note body")
	}
	// Force-overwrite.
	if err := NotesAddForce(dir, "refs/notes/architect/tasks", head, `{"a":2}`); err != nil {
		t.Fatal(err)
	}
	body2, _, err := NotesShow(dir, "refs/notes/architect/tasks", head)
	if err != nil {
		t.Fatal(err)
	}
	if body2 == body {
		t.Error("expected note content to change after force-overwrite")
	}
}

func TestIsCleanAndStatusPaths(t *testing.T) {
	dir := initTestRepo(t)
	clean, err := IsClean(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Fatal("expected clean worktree after init")
	}
	if err := os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = IsClean(dir)
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Fatal("expected dirty worktree")
	}
	paths, err := StatusPaths(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "dirty.txt" {
		t.Errorf("StatusPaths = %v, want [dirty.txt]", paths)
	}
}
