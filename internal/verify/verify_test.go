package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=forge-test", "GIT_AUTHOR_EMAIL=test@forge.local",
		"GIT_COMMITTER_NAME=forge-test", "GIT_COMMITTER_EMAIL=test@forge.local")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestVerifyWithGitDetectsAddedFile(t *testing.T) {
	dir := t.TempDir()
	runGit(t, dir, "init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.go"), []byte("package main"), 0o644))

	verified, err := Verify(context.Background(), dir, []string{"new.go"}, nil)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "new.go", verified[0].Path)
	assert.Equal(t, "added", verified[0].Change)
}

func TestVerifyWithGitDetectsModifiedFileWithLineDiffStats(t *testing.T) {
	dir := t.TempDir()
	runGit(t, dir, "init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line1\nline2\n"), 0o644))
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line1\nline2\nline3\n"), 0o644))

	verified, err := Verify(context.Background(), dir, []string{"a.txt"}, nil)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "modified", verified[0].Change)
	assert.Greater(t, verified[0].LinesAdded, 0)
}

func TestVerifyWithGitIgnoresUnclaimedFiles(t *testing.T) {
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "commit", "--allow-empty", "-m", "init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "untouched.go"), []byte("x"), 0o644))

	verified, err := Verify(context.Background(), dir, []string{"expected.go"}, nil)
	require.NoError(t, err)
	assert.Empty(t, verified)
}

func TestVerifyWithWalkFallsBackWhenNotAGitWorktree(t *testing.T) {
	dir := t.TempDir()
	before, err := TakeSnapshot(dir, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("data"), 0o644))

	verified, err := Verify(context.Background(), dir, []string{"out.txt"}, before)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "added", verified[0].Change)
}

func TestTakeSnapshotSkipsExcludedDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".claude"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".claude", "state.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.go"), []byte("x"), 0o644))

	snap, err := TakeSnapshot(dir, ".claude")
	require.NoError(t, err)
	_, hasTracked := snap["tracked.go"]
	_, hasState := snap[filepath.Join(".claude", "state.json")]
	assert.True(t, hasTracked)
	assert.False(t, hasState)
}
