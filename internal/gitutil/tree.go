package gitutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runGitEnv is runGit plus extra environment entries (used for the
// temporary-index dance in the branch-backed state store, which must not
// disturb the caller's real index).
func runGitEnv(dir string, extraEnv []string, args ...string) (string, string, error) {
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	cmd.Env = append(os.Environ(), extraEnv...)
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

// HashObjectStdin writes content as a loose git blob and returns its SHA.
func HashObjectStdin(dir, content string) (string, error) {
	return AnchorBlobSHA(dir, content)
}

// ShowBlobAtPath reads the blob at path within treeish ("" if not present).
func ShowBlobAtPath(dir, treeish, path string) (string, bool, error) {
	out, _, err := runGit(dir, "show", fmt.Sprintf("%s:%s", treeish, path))
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "does not exist") || strings.Contains(msg, "exists on disk, but not in") ||
			strings.Contains(msg, "Not a valid object name") || strings.Contains(msg, "fatal: invalid object") {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// TreeIndex is a scratch git index used to build a tree without touching the
// caller's real worktree index (per-namespace blob updates for the
// branch-backed state store).
type TreeIndex struct {
	dir  string
	path string
}

// NewTreeIndex allocates a temporary index file seeded from baseTreeish (a
// commit/tree-ish, or "" for an empty tree).
func NewTreeIndex(dir, baseTreeish string) (*TreeIndex, error) {
	f, err := os.CreateTemp("", "architect-index-*")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path) // git wants to create the index file itself

	ti := &TreeIndex{dir: dir, path: path}
	if strings.TrimSpace(baseTreeish) != "" {
		if _, _, err := runGitEnv(dir, ti.env(), "read-tree", baseTreeish); err != nil {
			ti.Close()
			return nil, err
		}
	}
	return ti, nil
}

func (ti *TreeIndex) env() []string {
	return []string{"GIT_INDEX_FILE=" + ti.path}
}

// SetBlob stages path to contain a blob with the given content (mode 100644).
func (ti *TreeIndex) SetBlob(path, content string) error {
	blobSHA, err := HashObjectStdin(ti.dir, content)
	if err != nil {
		return err
	}
	cacheInfo := fmt.Sprintf("100644,%s,%s", blobSHA, path)
	_, _, err = runGitEnv(ti.dir, ti.env(), "update-index", "--add", "--cacheinfo", cacheInfo)
	return err
}

// WriteTree writes the staged index to a tree object and returns its SHA.
func (ti *TreeIndex) WriteTree() (string, error) {
	out, _, err := runGitEnv(ti.dir, ti.env(), "write-tree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Close removes the scratch index file.
func (ti *TreeIndex) Close() {
	_ = os.Remove(ti.path)
}

// CommitTree creates a commit object for treeSHA with the given parents
// (possibly none, for the first commit on the branch) and returns its SHA.
func CommitTree(dir, treeSHA string, parents []string, message string) (string, error) {
	args := []string{"commit-tree", treeSHA}
	for _, p := range parents {
		if strings.TrimSpace(p) != "" {
			args = append(args, "-p", p)
		}
	}
	args = append(args, "-m", message)
	out, _, err := runGit(dir, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UpdateRefCAS atomically moves ref to newSHA, requiring its current value to
// equal oldSHA ("" meaning the ref must not yet exist). This gives the
// branch-backed state store ref-level optimistic concurrency beneath the
// store's own file-lock + revision CAS.
func UpdateRefCAS(dir, ref, newSHA, oldSHA string) error {
	args := []string{"update-ref", ref, newSHA}
	if oldSHA != "" {
		args = append(args, oldSHA)
	} else {
		args = append(args, strings.Repeat("0", 40))
	}
	_, _, err := runGit(dir, args...)
	return err
}

// ResolveRefOrEmpty resolves ref to a SHA, returning "" (not an error) if the
// ref does not exist.
func ResolveRefOrEmpty(dir, ref string) (string, error) {
	sha, err := RevParse(dir, ref)
	if err != nil {
		if strings.Contains(err.Error(), "unknown revision") || strings.Contains(err.Error(), "ambiguous argument") {
			return "", nil
		}
		return "", err
	}
	return sha, nil
}
