package patch

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/canburaks/arch/internal/model"
	"github.com/canburaks/arch/internal/state"
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
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "seed")
	return dir
}

func newTestStack(t *testing.T, repo string) *Stack {
	t.Helper()
	stateDir := filepath.Join(repo, ".state")
	backend, err := state.NewLocalBackend(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	store := state.New(backend, stateDir)
	return New(repo, store)
}

func TestCreateTaskPatchFromWorktree(t *testing.T) {
	repo := initTestRepo(t)
	s := newTestStack(t, repo)

	if err := os.WriteFile(filepath.Join(repo, "feature.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ref, err := s.CreateTaskPatchFromWorktree(CreateOptions{
		Subject: "add feature",
		TaskID:  "task-1",
		RunID:   "run-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ref.CommitHash == "" {
		t.Fatal("expected a commit hash")
	}
	if ref.PatchID != PatchIDFor(ref.CommitHash) {
		t.Errorf("patch id mismatch: got %s, want %s", ref.PatchID, PatchIDFor(ref.CommitHash))
	}

	// Patch id must stay stable across repeated listings.
	patches, err := s.ListPatches("")
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) == 0 || patches[len(patches)-1].PatchID != ref.PatchID {
		t.Fatalf("listed patch id changed: got %+v, want %s", patches, ref.PatchID)
	}
	patches2, err := s.ListPatches("")
	if err != nil {
		t.Fatal(err)
	}
	if patches2[len(patches2)-1].PatchID != patches[len(patches)-1].PatchID {
		t.Errorf("patch id not stable across listings: %s vs %s", patches[len(patches)-1].PatchID, patches2[len(patches2)-1].PatchID)
	}
}

func TestCreateTaskPatchFromWorktree_GuardrailViolation(t *testing.T) {
	repo := initTestRepo(t)
	s := newTestStack(t, repo)

	if err := os.WriteFile(filepath.Join(repo, "secrets.env"), []byte("KEY=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	preHead, err := headOrEmpty(s)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.CreateTaskPatchFromWorktree(CreateOptions{
		Subject:        "touch secrets",
		TaskID:         "task-1",
		RunID:          "run-1",
		ForbiddenPaths: []string{"*.env"},
	})
	if err == nil {
		t.Fatal("expected a guardrail violation error")
	}

	// The working tree must be left exactly as before: nothing staged, no commit made.
	staged, err := s.stagedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("expected no staged files after guardrail rejection, got %v", staged)
	}
	head, err := headOrEmpty(s)
	if err != nil {
		t.Fatal(err)
	}
	if head != preHead {
		t.Errorf("HEAD moved after guardrail rejection: %s -> %s", preHead, head)
	}
}

func TestRejectPatch_NonDestructive(t *testing.T) {
	repo := initTestRepo(t)
	s := newTestStack(t, repo)

	if err := os.WriteFile(filepath.Join(repo, "feature.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := s.CreateTaskPatchFromWorktree(CreateOptions{Subject: "add feature", TaskID: "t1", RunID: "r1"})
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := s.RejectPatch(ref.PatchID)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != model.PatchRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}

	// The original commit must still be reachable.
	out, err := exec.Command("git", "-C", repo, "cat-file", "-e", ref.CommitHash).CombinedOutput()
	if err != nil {
		t.Fatalf("original commit unreachable after reject: %v\n%s", err, out)
	}

	// HEAD's new subject must begin with "Revert".
	subj, err := exec.Command("git", "-C", repo, "log", "-1", "--format=%s").CombinedOutput()
	if err != nil {
		t.Fatal(err)
	}
	if got := string(subj); len(got) < 6 || got[:6] != "Revert" {
		t.Errorf("HEAD subject = %q, want it to start with Revert", got)
	}
}

func TestCheckpointAndRollback(t *testing.T) {
	repo := initTestRepo(t)
	s := newTestStack(t, repo)

	cp, err := s.CreateCheckpoint("before risky change", "demo goal", "run-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(repo, "risky.go"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTaskPatchFromWorktree(CreateOptions{Subject: "risky change", TaskID: "t2", RunID: "run-1"}); err != nil {
		t.Fatal(err)
	}

	priorBranch, err := s.CurrentBranch()
	if err != nil {
		t.Fatal(err)
	}

	branch, err := s.Rollback(cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(branch) < len("architect/rollback-") || branch[:len("architect/rollback-")] != "architect/rollback-" {
		t.Errorf("rollback branch name = %q, want architect/rollback-* prefix", branch)
	}

	out, err := exec.Command("git", "-C", repo, "rev-parse", "--abbrev-ref", "HEAD").CombinedOutput()
	if err != nil {
		t.Fatal(err)
	}
	gotBranch := string(out)
	if gotBranch[:len(gotBranch)-1] != branch {
		t.Errorf("current branch = %q, want %q", gotBranch, branch)
	}

	// The prior branch must still exist, unmodified and unchecked-out.
	rc := exec.Command("git", "-C", repo, "show-ref", "--verify", "refs/heads/"+priorBranch)
	if err := rc.Run(); err != nil {
		t.Errorf("prior branch %s no longer exists: %v", priorBranch, err)
	}

	list, err := s.ListCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != cp.ID {
		t.Errorf("ListCheckpoints = %+v, want single entry %s", list, cp.ID)
	}
}
