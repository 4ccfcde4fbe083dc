package fileops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

func newTestFileOps(t *testing.T) (*FileOps, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	store, err := memory.Open(filepath.Join(dir, ".fgd_memory.json"), memory.Options{})
	require.NoError(t, err)
	return New(root, store, Limits{}), root.String()
}

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	f, _ := newTestFileOps(t)
	res, err := f.WriteFile("a/b.txt", "hello world")
	require.NoError(t, err)
	require.Equal(t, 11, res.Size)
	require.Empty(t, res.Backup)

	content, meta, err := f.ReadFile("a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", content)
	require.Equal(t, 1, meta.Lines)
}

func TestWriteFileContentHashIsStableAndChangesWithContent(t *testing.T) {
	f, _ := newTestFileOps(t)
	res1, err := f.WriteFile("h.txt", "same content")
	require.NoError(t, err)
	require.Equal(t, ContentHash("same content"), res1.ContentHash)

	res2, err := f.WriteFile("h2.txt", "different content")
	require.NoError(t, err)
	require.NotEqual(t, res1.ContentHash, res2.ContentHash)
}

func TestWriteFileCreatesBackupOnOverwrite(t *testing.T) {
	f, root := newTestFileOps(t)
	_, err := f.WriteFile("x.txt", "v1")
	require.NoError(t, err)
	res, err := f.WriteFile("x.txt", "v2")
	require.NoError(t, err)
	require.Equal(t, "x.txt.bak", res.Backup)

	backup, err := os.ReadFile(filepath.Join(root, "x.txt.bak"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(backup))
}

func TestReadFileRejectsTooLarge(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	f := New(root, nil, Limits{MaxFileSizeKB: 1})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Repeat("a", 2000)), 0o644))

	_, _, err = f.ReadFile("big.txt")
	require.Error(t, err)
	require.ErrorIs(t, err, workspace.ErrFileTooLarge)
}

func TestReadFileExactLimitSucceedsOneByteOverFails(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	f := New(root, nil, Limits{MaxFileSizeKB: 1})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exact.txt"), []byte(strings.Repeat("a", 1024)), 0o644))
	_, _, err = f.ReadFile("exact.txt")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "over.txt"), []byte(strings.Repeat("a", 1025)), 0o644))
	_, _, err = f.ReadFile("over.txt")
	require.ErrorIs(t, err, workspace.ErrFileTooLarge)
}

func TestReadFileRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	f := New(root, nil, Limits{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin.dat"), []byte{0xff, 0xfe, 0x00, 0xff}, 0o644))

	_, _, err = f.ReadFile("bin.dat")
	require.ErrorIs(t, err, workspace.ErrBinaryOrInvalidEncoding)
}

func TestEditFileZeroOccurrencesFails(t *testing.T) {
	f, _ := newTestFileOps(t)
	_, err := f.WriteFile("f.txt", "hello")
	require.NoError(t, err)
	_, err = f.EditFile("f.txt", "missing", "x", true)
	require.ErrorIs(t, err, workspace.ErrEditAnchorMissing)
}

func TestEditFileOneOccurrencePendingThenConfirm(t *testing.T) {
	f, root := newTestFileOps(t)
	_, err := f.WriteFile("f.txt", "hello")
	require.NoError(t, err)

	pending, err := f.EditFile("f.txt", "hello", "HELLO", false)
	require.NoError(t, err)
	require.False(t, pending.Applied)
	require.False(t, pending.Ambiguous)

	unchanged, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(unchanged))

	applied, err := f.EditFile("f.txt", "hello", "HELLO", true)
	require.NoError(t, err)
	require.True(t, applied.Applied)
	require.Equal(t, "f.txt.bak", applied.BackupName)

	final, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(final))
}

func TestEditFileTwoOccurrencesReplacesFirstAndFlagsAmbiguity(t *testing.T) {
	f, root := newTestFileOps(t)
	_, err := f.WriteFile("f.txt", "foo foo")
	require.NoError(t, err)

	res, err := f.EditFile("f.txt", "foo", "bar", true)
	require.NoError(t, err)
	require.True(t, res.Ambiguous)

	final, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "bar foo", string(final))
}

func TestListDirectoryCountsSatisfyInvariant(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n"), 0o644))

	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	f := New(root, nil, Limits{})

	// The .gitignore file itself is a dot-entry, so it counts as hidden
	// alongside .git.
	res, err := f.ListDirectory(".")
	require.NoError(t, err)
	require.Equal(t, 0, res.FileCount)
	require.Equal(t, 2, res.FilteredHidden)
	require.Equal(t, 1, res.FilteredGitignore)
	require.Equal(t, 3, res.TotalEntries)
	require.Equal(t, res.FileCount+res.FilteredHidden+res.FilteredGitignore, res.TotalEntries)
	require.NotEmpty(t, res.Note)
}

func TestListDirectoryNotFoundAndNotADirectory(t *testing.T) {
	f, _ := newTestFileOps(t)
	_, err := f.ListDirectory("nope")
	require.ErrorIs(t, err, workspace.ErrNotFound)

	_, err = f.WriteFile("file.txt", "x")
	require.NoError(t, err)
	_, err = f.ListDirectory("file.txt")
	require.ErrorIs(t, err, workspace.ErrNotADirectory)
}

func TestCreateDirectoryIsIdempotent(t *testing.T) {
	f, _ := newTestFileOps(t)
	require.NoError(t, f.CreateDirectory("a/b/c"))
	require.NoError(t, f.CreateDirectory("a/b/c"))
}

func TestCreateDirectoryFailsOnExistingFile(t *testing.T) {
	f, _ := newTestFileOps(t)
	_, err := f.WriteFile("occupied", "x")
	require.NoError(t, err)
	err = f.CreateDirectory("occupied")
	require.ErrorIs(t, err, workspace.ErrPathIsFile)
}

func TestSearchInFilesIsCaseInsensitiveAndBounded(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.Base(dirFile(i))), []byte("Needle present"), 0o644))
	}
	f := New(root, nil, Limits{MaxFilesPerScan: 2})

	matches, err := f.SearchInFiles("needle", "**/*")
	require.NoError(t, err)
	require.NotEmpty(t, matches, "lower-case query must match \"Needle\"")
	require.LessOrEqual(t, len(matches), 2)
}

func dirFile(i int) string {
	return "file" + string(rune('a'+i)) + ".txt"
}
