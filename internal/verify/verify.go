// Package verify confirms an executor's claimed file changes actually
// happened on disk. git's porcelain status is the primary oracle; a
// directory mtime/hash walk is the fallback when the project root is not
// a git worktree, per §4.7.
package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"forge/internal/evidence"
)

// Snapshot captures per-file fingerprints before an executor run, for the
// directory-walk fallback to diff against afterward.
type Snapshot map[string]fingerprint

type fingerprint struct {
	modTime time.Time
	size    int64
}

// TakeSnapshot walks root and fingerprints every regular file, skipping
// the dir name supplied (forge's own state directory) and any .git tree.
func TakeSnapshot(root, excludeDir string) (Snapshot, error) {
	snap := make(Snapshot)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if info.IsDir() {
			name := info.Name()
			if name == ".git" || (excludeDir != "" && name == excludeDir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		snap[rel] = fingerprint{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return snap, err
}

// Verify determines which of the claimed files actually changed. It
// prefers git porcelain status; if root is not a git worktree (or git is
// unavailable), it falls back to comparing `before` against a fresh walk.
func Verify(ctx context.Context, root string, claimed []string, before Snapshot) ([]evidence.VerifiedFile, error) {
	if isGitWorktree(ctx, root) {
		return verifyWithGit(ctx, root, claimed)
	}
	return verifyWithWalk(root, claimed, before)
}

func isGitWorktree(ctx context.Context, root string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = root
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// verifyWithGit runs `git status --porcelain=v1 -z` and reports every
// claimed path that appears in the porcelain output as changed.
func verifyWithGit(ctx context.Context, root string, claimed []string) ([]evidence.VerifiedFile, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain=v1", "-z")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	changed := make(map[string]string)
	for _, entry := range strings.Split(strings.TrimRight(string(out), "\x00"), "\x00") {
		if len(entry) < 4 {
			continue
		}
		status := entry[:2]
		path := entry[3:]
		changed[path] = classifyGitStatus(status)
	}

	claimedSet := make(map[string]bool, len(claimed))
	for _, c := range claimed {
		claimedSet[filepath.ToSlash(c)] = true
	}

	var verified []evidence.VerifiedFile
	for path, change := range changed {
		if len(claimedSet) != 0 && !claimedSet[path] {
			continue
		}
		vf := evidence.VerifiedFile{Path: path, Change: change}
		if change == "modified" {
			vf.LinesAdded, vf.LinesDeleted = lineDiffStat(ctx, root, path)
		}
		verified = append(verified, vf)
	}
	return verified, nil
}

// lineDiffStat compares the working-tree content of path against its last
// committed revision and returns inserted/deleted line counts. Best-effort:
// any failure (binary file, detached content, git error) yields zero stats.
func lineDiffStat(ctx context.Context, root, path string) (added, deleted int) {
	head := exec.CommandContext(ctx, "git", "show", "HEAD:"+path)
	head.Dir = root
	before, err := head.Output()
	if err != nil {
		return 0, 0
	}
	after, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		return 0, 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(before), string(after), false)
	for _, d := range diffs {
		lines := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			deleted += lines
		}
	}
	return added, deleted
}

func classifyGitStatus(status string) string {
	switch {
	case strings.Contains(status, "D"):
		return "deleted"
	case strings.Contains(status, "?"), strings.Contains(status, "A"):
		return "added"
	default:
		return "modified"
	}
}

// verifyWithWalk re-walks root and diffs against the pre-run snapshot.
func verifyWithWalk(root string, claimed []string, before Snapshot) ([]evidence.VerifiedFile, error) {
	after, err := TakeSnapshot(root, "")
	if err != nil {
		return nil, err
	}

	var verified []evidence.VerifiedFile
	checkSet := claimed
	if len(checkSet) == 0 {
		checkSet = unionKeys(before, after)
	}

	for _, rel := range checkSet {
		rel = filepath.ToSlash(rel)
		beforeFp, hadBefore := before[rel]
		afterFp, hasAfter := after[rel]

		switch {
		case !hadBefore && hasAfter:
			verified = append(verified, evidence.VerifiedFile{Path: rel, Change: "added"})
		case hadBefore && !hasAfter:
			verified = append(verified, evidence.VerifiedFile{Path: rel, Change: "deleted"})
		case hadBefore && hasAfter:
			if afterFp.modTime.After(beforeFp.modTime) || afterFp.size != beforeFp.size {
				verified = append(verified, evidence.VerifiedFile{Path: rel, Change: "modified"})
			}
		}
	}
	return verified, nil
}

func unionKeys(a, b Snapshot) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
