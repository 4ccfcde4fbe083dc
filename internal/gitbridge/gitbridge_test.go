package gitbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	return dir
}

func TestAvailableCachesResultForProcessLifetime(t *testing.T) {
	dir := initRepo(t)
	b := New(dir)
	require.True(t, b.Available(context.Background()))
	require.True(t, b.Available(context.Background()))
}

func TestNonGitDirectoryIsUnavailable(t *testing.T) {
	b := New(t.TempDir())
	require.False(t, b.Available(context.Background()))
	_, err := b.Status(context.Background())
	require.ErrorIs(t, err, workspace.ErrNotAGitRepo)
}

func TestCommitParsesHashFromBrackets(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	b := New(dir)
	hash, err := b.Commit(context.Background(), "initial commit")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.Regexp(t, "^[a-f0-9]+$", hash)
}

func TestStatusAndDiffAndLog(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	b := New(dir)
	_, err := b.Commit(context.Background(), "first")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("y"), 0o644))
	status, err := b.Status(context.Background())
	require.NoError(t, err)
	require.Contains(t, status, "a.txt")

	diff, err := b.Diff(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, diff, "a.txt")

	logOut, err := b.Log(context.Background(), 5)
	require.NoError(t, err)
	require.Contains(t, logOut, "first")
}

func TestRunTimesOutWhenDeadlineAlreadyExpired(t *testing.T) {
	dir := initRepo(t)
	b := New(dir)
	b.Timeout = time.Nanosecond
	_, _, err := b.run(context.Background(), "status")
	require.ErrorIs(t, err, workspace.ErrGitTimeout)
}
