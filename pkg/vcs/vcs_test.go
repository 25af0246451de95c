package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestCurrentBranch(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)
	branch, err := g.CurrentBranch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestIsCleanAndCommit(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	clean, err := g.IsClean(context.Background())
	require.NoError(t, err)
	require.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("content"), 0o644))

	clean, err = g.IsClean(context.Background())
	require.NoError(t, err)
	require.False(t, clean)

	committed, err := g.Commit(context.Background(), "add new.txt", true)
	require.NoError(t, err)
	require.True(t, committed)

	clean, err = g.IsClean(context.Background())
	require.NoError(t, err)
	require.True(t, clean)
}

func TestCommitWithNothingStagedIsNoop(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)
	committed, err := g.Commit(context.Background(), "noop", true)
	require.NoError(t, err)
	require.False(t, committed)
}
