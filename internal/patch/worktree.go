package patch

import "github.com/canburaks/arch/internal/gitutil"

func headOrEmpty(s *Stack) (string, error) {
	if ok := gitutil.IsRepo(s.repoDir); !ok {
		return "", nil
	}
	sha, err := gitutil.HeadSHA(s.repoDir)
	if err != nil {
		// A brand new repo with no commits yet: treat as empty rather than erroring.
		return "", nil
	}
	return sha, nil
}

func (s *Stack) stageAll() error {
	return gitutil.AddAll(s.repoDir)
}

func (s *Stack) unstageAll() error {
	return gitutil.ResetMixed(s.repoDir)
}

func (s *Stack) stagedFiles() ([]string, error) {
	return gitutil.StagedFiles(s.repoDir)
}

func (s *Stack) commitStaged(subject, body string) (string, error) {
	return gitutil.CommitStaged(s.repoDir, subject, body, false)
}

// isolateExcludedPaths stashes the given paths (pre-existing dirty paths
// that must not be swept into this task's commit) and returns a restore
// function that pops them back once staging/commit is done.
func (s *Stack) isolateExcludedPaths(paths []string) (func(), error) {
	if len(paths) == 0 {
		return func() {}, nil
	}
	if err := gitutil.Stash(s.repoDir, paths); err != nil {
		return nil, err
	}
	return func() { _ = gitutil.StashPopLatest(s.repoDir) }, nil
}
