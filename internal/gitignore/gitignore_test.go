package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesPatternsSkippingCommentsAndNegation(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\n\n*.log\nbuild/\n!important.log\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644))

	patterns, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	require.Equal(t, "*.log", patterns[0].Raw)
	require.False(t, patterns[0].DirOnly)
	require.Equal(t, "build", patterns[1].Raw)
	require.True(t, patterns[1].DirOnly)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	patterns, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, patterns)
}

func TestIsIgnoredMatchesBasenameAndRelPath(t *testing.T) {
	patterns := []Pattern{{Raw: "*.log"}, {Raw: "build", DirOnly: true}, {Raw: "docs/guide.md"}}

	require.True(t, IsIgnored("output.log", false, patterns))
	require.True(t, IsIgnored("nested/output.log", false, patterns))
	require.True(t, IsIgnored("build", true, patterns))
	require.False(t, IsIgnored("build", false, patterns), "dir-only pattern must not match a file")
	require.True(t, IsIgnored("docs/guide.md", false, patterns))
	require.False(t, IsIgnored("docs/other.md", false, patterns))
}

func TestIsIgnoredEmptyPatternsNeverMatches(t *testing.T) {
	require.False(t, IsIgnored("anything", false, nil))
}

func TestIsIgnoredMatchesDoubleStarArbitraryDepth(t *testing.T) {
	// Load keeps "**" patterns as written (only negation lines are dropped),
	// and IsIgnored matches them at any depth through doublestar.
	patterns := []Pattern{{Raw: "**/generated.go"}}
	require.True(t, IsIgnored("a/b/c/generated.go", false, patterns))
}
