package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) (Root, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := NewRoot(dir)
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return root, resolved
}

func TestSanitizeAcceptsNestedRelativePath(t *testing.T) {
	root, resolved := newTestRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(resolved, "a", "b"), 0o755))

	p, err := root.Sanitize("a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resolved, "a", "b", "c.txt"), p.Abs())
	require.Equal(t, filepath.Join("a", "b", "c.txt"), p.Rel())
}

func TestSanitizeMissingIntermediateDirIsNotAnError(t *testing.T) {
	root, resolved := newTestRoot(t)
	p, err := root.Sanitize("does/not/exist/yet.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resolved, "does", "not", "exist", "yet.txt"), p.Abs())
}

func TestSanitizeRejectsParentReference(t *testing.T) {
	root, _ := newTestRoot(t)
	_, err := root.Sanitize("../escape.txt")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPathTraversal))
}

func TestSanitizeRejectsAbsolutePath(t *testing.T) {
	root, _ := newTestRoot(t)
	_, err := root.Sanitize("/etc/passwd")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPathTraversal))
}

func TestSanitizeRejectsDriveLetterAndUNC(t *testing.T) {
	root, _ := newTestRoot(t)
	for _, in := range []string{`C:\Windows\system32`, `\\server\share\file`} {
		_, err := root.Sanitize(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrPathTraversal), in)
	}
}

func TestSanitizeRejectsSymlinkEscape(t *testing.T) {
	root, resolved := newTestRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(resolved, "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := root.Sanitize("escape/secret.txt")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPathTraversal))
}

func TestSanitizeHandlesShortInputsWithoutPanic(t *testing.T) {
	root, _ := newTestRoot(t)
	for _, in := range []string{"", ".", "a", ".."} {
		require.NotPanics(t, func() {
			_, _ = root.Sanitize(in)
		})
	}
}

func TestSanitizeHandlesMixedSeparators(t *testing.T) {
	root, resolved := newTestRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(resolved, "a"), 0o755))
	p, err := root.Sanitize(`a\file.txt`)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resolved, "a", "file.txt"), p.Abs())
}

func TestNewRootRejectsMissingDir(t *testing.T) {
	_, err := NewRoot(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestNewRootRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "afile")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err := NewRoot(file)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotADirectory))
}
