// Package gitignore implements the minimal .gitignore-style matching
// described in spec.md §4.2: shell-style glob patterns applied to a
// path's basename and to its path relative to the root. Negation ("!")
// is not implemented: such lines are dropped by Load. "**" patterns are
// kept and match at any depth, since matching goes through doublestar.
package gitignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a single compiled .gitignore line.
type Pattern struct {
	Raw     string // pattern text with any trailing "/" stripped
	DirOnly bool   // pattern ended in "/": matches directories only
}

// Load reads and parses the .gitignore file directly under root, if any.
// A missing .gitignore yields an empty, non-error pattern set.
func Load(root string) ([]Pattern, error) {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Negation is not implemented (spec.md §4.2); lines starting with
		// "!" are dropped rather than silently mismatched.
		if strings.HasPrefix(line, "!") {
			continue
		}
		dirOnly := strings.HasSuffix(line, "/")
		pat := strings.TrimSuffix(line, "/")
		pat = strings.TrimPrefix(pat, "/")
		if pat == "" {
			continue
		}
		out = append(out, Pattern{Raw: pat, DirOnly: dirOnly})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsIgnored reports whether relPath (slash-separated, relative to root)
// matches any pattern, tested against both its basename and its full
// relative path.
func IsIgnored(relPath string, isDir bool, patterns []Pattern) bool {
	if len(patterns) == 0 || relPath == "" {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	base := path.Base(relPath)

	for _, p := range patterns {
		if p.DirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(p.Raw, base); ok {
			return true
		}
		if ok, _ := doublestar.Match(p.Raw, relPath); ok {
			return true
		}
	}
	return false
}
