package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path is a wrapper carrying a filesystem path proven by Sanitize to lie
// inside a Root. FileOps and the ApprovalProtocol pass every caller-supplied
// relative path through Sanitize before touching the filesystem;
// GitBridge.Diff hands its file arguments to git without Sanitize.
type Path struct {
	abs string
	rel string
}

// Abs returns the canonical absolute path.
func (p Path) Abs() string { return p.abs }

// Rel returns the path relative to the root it was sanitized against.
func (p Path) Rel() string { return p.rel }

func (p Path) String() string { return p.abs }

// Root is an immutable, canonical, absolute directory. Every Path produced
// by Sanitize against a Root is guaranteed to resolve inside it.
type Root struct {
	abs string
}

// NewRoot canonicalises dir and verifies it exists, is a directory, and is
// readable and writable. The process refuses to start against a root that
// fails any of these checks (spec §3, WatchedRoot).
func NewRoot(dir string) (Root, error) {
	if strings.TrimSpace(dir) == "" {
		return Root{}, fmt.Errorf("watch_dir is empty: %w", ErrInvalidPath)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolve watch_dir: %w", ErrInvalidPath)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Root{}, fmt.Errorf("watch_dir %q does not exist: %w", dir, ErrNotFound)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Root{}, fmt.Errorf("stat watch_dir: %w", ErrNotFound)
	}
	if !info.IsDir() {
		return Root{}, fmt.Errorf("watch_dir %q is not a directory: %w", dir, ErrNotADirectory)
	}
	probe := filepath.Join(resolved, ".fgd_write_probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Root{}, fmt.Errorf("watch_dir %q is not writable: %w", dir, ErrPermissionDenied)
	}
	f.Close()
	os.Remove(probe)
	return Root{abs: resolved}, nil
}

func (r Root) String() string { return r.abs }

// Sanitize resolves a caller-supplied relative path into an absolute Path
// proven to lie inside r, or fails with ErrPathTraversal / ErrInvalidPath.
//
// It never indexes into rel by fixed offsets and must not panic on short,
// mixed-separator, drive-letter/UNC-shaped, or unicode-normalisation-variant
// inputs; a missing intermediate directory is not an error here.
func (r Root) Sanitize(rel string) (Path, error) {
	if r.abs == "" {
		return Path{}, fmt.Errorf("root not initialised: %w", ErrInvalidPath)
	}
	clean := normalizeSeparators(rel)
	if clean == "" || clean == "." {
		clean = "."
	}

	if looksAbsoluteOrUNC(clean) {
		return Path{}, fmt.Errorf("absolute path not allowed: %q: %w", rel, ErrPathTraversal)
	}

	cleaned := filepath.Clean(clean)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return Path{}, fmt.Errorf("path escapes root: %q: %w", rel, ErrPathTraversal)
	}

	candidate := filepath.Join(r.abs, cleaned)

	resolved, err := resolveWithMissingTail(candidate)
	if err != nil {
		return Path{}, fmt.Errorf("resolve path: %w", ErrInvalidPath)
	}

	if !withinRoot(r.abs, resolved) {
		return Path{}, fmt.Errorf("path escapes root: %q: %w", rel, ErrPathTraversal)
	}

	relBack, err := filepath.Rel(r.abs, resolved)
	if err != nil {
		return Path{}, fmt.Errorf("relativize path: %w", ErrInvalidPath)
	}
	return Path{abs: resolved, rel: relBack}, nil
}

// looksAbsoluteOrUNC rejects POSIX-absolute paths, Windows drive-letter
// paths ("C:\..."), and UNC paths ("\\server\share") regardless of host
// OS, since a caller embedding these in a relative-path argument is always
// attempting to escape the root.
func looksAbsoluteOrUNC(p string) bool {
	if filepath.IsAbs(p) {
		return true
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\\`) {
		return true
	}
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		return true
	}
	return false
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, `\`, string(filepath.Separator))
}

// resolveWithMissingTail resolves symlinks along the longest existing
// prefix of candidate and rejoins the remaining (possibly nonexistent)
// components, so that a guard check never fails merely because an
// intermediate directory hasn't been created yet.
func resolveWithMissingTail(candidate string) (string, error) {
	existing := candidate
	var tail []string
	for {
		info, err := os.Lstat(existing)
		if err == nil {
			if info.Mode()&os.ModeSymlink != 0 {
				target, lerr := filepath.EvalSymlinks(existing)
				if lerr != nil {
					return "", lerr
				}
				existing = target
			}
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			// Reached filesystem root without finding an existing ancestor.
			existing = parent
			break
		}
		tail = append(tail, filepath.Base(existing))
		existing = parent
	}
	resolvedExisting, err := filepath.EvalSymlinks(existing)
	if err != nil {
		resolvedExisting = existing
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolvedExisting = filepath.Join(resolvedExisting, tail[i])
	}
	return resolvedExisting, nil
}

// withinRoot compares path-component sequences, never raw string prefixes,
// so that "/watched-root-evil" is not mistaken for a child of "/watched-root".
func withinRoot(root, target string) bool {
	if root == target {
		return true
	}
	rootParts := splitComponents(root)
	targetParts := splitComponents(target)
	if len(targetParts) < len(rootParts) {
		return false
	}
	for i, part := range rootParts {
		if targetParts[i] != part {
			return false
		}
	}
	return true
}

func splitComponents(p string) []string {
	p = filepath.Clean(p)
	var parts []string
	for {
		dir, file := filepath.Split(p)
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		if dir == p || dir == "" {
			if dir != "" {
				parts = append([]string{dir}, parts...)
			}
			break
		}
		p = dir
	}
	return parts
}
