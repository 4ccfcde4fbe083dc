package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikeychann-hash/fgd-server/internal/fileops"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fileops.FileOps, *memory.Store) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	store, err := memory.Open(dir+"/.fgd_memory.json", memory.Options{})
	require.NoError(t, err)
	files := fileops.New(root, store, fileops.Limits{})

	d := New()
	require.NoError(t, RegisterWorkspaceTools(d, files, nil, nil, nil, store))
	return d, files, store
}

func TestListToolsReturnsFixedCatalogueSortedByName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	tools := d.ListTools()
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	require.Equal(t, []string{
		"create_directory", "edit_file", "git_commit", "git_diff", "git_log",
		"list_directory", "llm_query", "read_file", "recall", "remember",
		"search_in_files", "write_file",
	}, names)
}

func TestCallTool_UnknownToolIsNonFatalError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	result := d.CallTool(context.Background(), "does_not_exist", nil)
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "Error:")
}

func TestCallTool_SchemaViolationIsNonFatalError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	result := d.CallTool(context.Background(), "read_file", json.RawMessage(`{}`))
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "Error:")
}

func TestCallTool_WriteThenReadFileRoundTrips(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	writeArgs, _ := json.Marshal(map[string]any{"path": "a.txt", "content": "hello"})
	writeResult := d.CallTool(ctx, "write_file", writeArgs)
	require.False(t, writeResult.IsError)

	readArgs, _ := json.Marshal(map[string]any{"path": "a.txt"})
	readResult := d.CallTool(ctx, "read_file", readArgs)
	require.False(t, readResult.IsError)
	require.Contains(t, readResult.Text, "hello")
}

func TestCallTool_EditFileWithoutConfirmDoesNotTouchDisk(t *testing.T) {
	d, files, _ := newTestDispatcher(t)
	ctx := context.Background()

	writeArgs, _ := json.Marshal(map[string]any{"path": "a.txt", "content": "hello world"})
	require.False(t, d.CallTool(ctx, "write_file", writeArgs).IsError)

	editArgs, _ := json.Marshal(map[string]any{"path": "a.txt", "old_text": "hello", "new_text": "goodbye"})
	editResult := d.CallTool(ctx, "edit_file", editArgs)
	require.False(t, editResult.IsError)
	require.Contains(t, editResult.Text, "pending approval")

	content, _, err := files.ReadFile("a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", content, "file must not change until approved")
}

func TestCallTool_RememberThenRecallRoundTrips(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	rememberArgs, _ := json.Marshal(map[string]any{"key": "k1", "value": "v1"})
	require.False(t, d.CallTool(ctx, "remember", rememberArgs).IsError)

	recallArgs, _ := json.Marshal(map[string]any{"key": "k1"})
	recallResult := d.CallTool(ctx, "recall", recallArgs)
	require.False(t, recallResult.IsError)
	require.Contains(t, recallResult.Text, "v1")
}
