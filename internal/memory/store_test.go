package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".fgd_memory.json")
	s, err := Open(path, opts)
	require.NoError(t, err)
	return s, path
}

func TestRememberAndRecallIncrementsAccessCount(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Remember("foo", "general", "bar"))

	v, found, err := s.Recall("foo", "general")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bar", v)

	cat, err := s.RecallCategory("general")
	require.NoError(t, err)
	require.Equal(t, 1, cat["foo"].AccessCount)

	_, _, err = s.Recall("foo", "general")
	require.NoError(t, err)
	cat, _ = s.RecallCategory("general")
	require.Equal(t, 2, cat["foo"].AccessCount)
}

func TestRecallCategoryDoesNotIncrementAccessCount(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Remember("foo", "general", "bar"))
	_, err := s.RecallCategory("general")
	require.NoError(t, err)
	cat, _ := s.RecallCategory("general")
	require.Equal(t, 0, cat["foo"].AccessCount)
}

func TestRememberPreservesAccessCountOnUpdate(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Remember("foo", "general", "v1"))
	_, _, _ = s.Recall("foo", "general")
	require.NoError(t, s.Remember("foo", "general", "v2"))

	cat, _ := s.RecallCategory("general")
	require.Equal(t, "v2", cat["foo"].Value)
	require.Equal(t, 1, cat["foo"].AccessCount)
}

func TestAddContextEvictsOldestPastLimit(t *testing.T) {
	s, _ := newTestStore(t, Options{ContextLimit: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddContext("file_read", i))
	}
	ctx, err := s.GetContext()
	require.NoError(t, err)
	require.Len(t, ctx, 3)
	require.Equal(t, float64(2), asFloat(ctx[0].Data))
	require.Equal(t, float64(4), asFloat(ctx[2].Data))
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case float64:
		return x
	default:
		return -1
	}
}

func TestPruneIfNeededDropsLowestAccessCountFirst(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxEntries: 2})
	require.NoError(t, s.Remember("a", "general", 1))
	require.NoError(t, s.Remember("b", "general", 2))
	_, _, _ = s.Recall("b", "general") // bump b's access_count above a's
	require.NoError(t, s.Remember("c", "general", 3))

	all, err := s.RecallAll()
	require.NoError(t, err)
	total := 0
	for _, cat := range all {
		total += len(cat)
	}
	require.LessOrEqual(t, total, 2)
	// "a" has the lowest access_count (0) and should have been evicted.
	_, foundA := all["general"]["a"]
	require.False(t, foundA)
	_, foundB := all["general"]["b"]
	require.True(t, foundB)
}

func TestOpenRecoversFromMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nope.json"), Options{})
	require.NoError(t, err)
	all, err := s.RecallAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOpenRejectsTruncatedFileAndStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".fgd_memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"memories": {`), 0o644))

	s, err := Open(path, Options{})
	require.NoError(t, err)
	all, err := s.RecallAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOpenHandlesMissingContextField(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".fgd_memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"memories": {"general": {"k": {"value": 1, "timestamp": "2024-01-01T00:00:00Z", "access_count": 0}}}}`), 0o644))

	s, err := Open(path, Options{})
	require.NoError(t, err)
	ctx, err := s.GetContext()
	require.NoError(t, err)
	require.Empty(t, ctx)
}

func TestPersistRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".fgd_memory.json")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Remember("k", "general", "v"))
	require.NoError(t, s.AddContext("file_read", "a.txt"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "v", doc.Memories["general"]["k"].Value)
	require.Len(t, doc.Context, 1)

	reloaded, err := Open(path, Options{})
	require.NoError(t, err)
	all, err := reloaded.RecallAll()
	require.NoError(t, err)
	require.Equal(t, "v", all["general"]["k"].Value)
}

func TestMemoryFilePermissionsOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".fgd_memory.json")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Remember("k", "general", "v"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
