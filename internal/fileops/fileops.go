// Package fileops implements the read/write/edit/list/search primitives of
// spec.md §4.4 (FileOps, C4) on top of workspace.Root (C1) and gitignore
// (C2), recording ContextItems into a memory.Store (C3) as it goes.
package fileops

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/mikeychann-hash/fgd-server/internal/gitignore"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

// ContentHash renders a blake3-256 digest as hex, used to correlate a
// PendingEdit with the file state it was computed against (spec.md §4.5)
// and reported as the written content's hash; backups are not hashed.
func ContentHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

const (
	defaultMaxFileSizeKB    = 250
	defaultMaxDirSizeGB     = 2
	defaultMaxFilesPerScan  = 5
	backupSuffix            = ".bak"
)

// Limits bounds the size of data FileOps will read, write, or scan
// (spec.md §6.3 scan.* keys).
type Limits struct {
	MaxFileSizeKB   int
	MaxDirSizeGB    float64
	MaxFilesPerScan int
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileSizeKB <= 0 {
		l.MaxFileSizeKB = defaultMaxFileSizeKB
	}
	if l.MaxDirSizeGB <= 0 {
		l.MaxDirSizeGB = defaultMaxDirSizeGB
	}
	if l.MaxFilesPerScan <= 0 {
		l.MaxFilesPerScan = defaultMaxFilesPerScan
	}
	return l
}

// FileOps mediates every file operation against a workspace.Root.
type FileOps struct {
	Root   workspace.Root
	Store  *memory.Store
	Limits Limits
}

// New constructs a FileOps with defaults applied to any zero-valued limit.
func New(root workspace.Root, store *memory.Store, limits Limits) *FileOps {
	return &FileOps{Root: root, Store: store, Limits: limits.withDefaults()}
}

// ReadMetadata describes a successfully read file (spec.md §6.1 read_file).
type ReadMetadata struct {
	SizeKB   float64
	Modified string
	Lines    int
}

// ReadFile rejects non-UTF-8 content and files larger than MaxFileSizeKB.
// On success it records a file_read ContextItem.
func (f *FileOps) ReadFile(rel string) (string, ReadMetadata, error) {
	p, err := f.Root.Sanitize(rel)
	if err != nil {
		return "", ReadMetadata{}, err
	}
	info, err := os.Stat(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ReadMetadata{}, fmt.Errorf("file %q not found: %w", rel, workspace.ErrNotFound)
		}
		return "", ReadMetadata{}, fmt.Errorf("stat %q: %w", rel, workspace.ErrPermissionDenied)
	}
	maxBytes := int64(f.Limits.MaxFileSizeKB) * 1024
	if info.Size() > maxBytes {
		return "", ReadMetadata{}, fmt.Errorf("file %q is %d bytes, exceeds %d KiB limit: %w", rel, info.Size(), f.Limits.MaxFileSizeKB, workspace.ErrFileTooLarge)
	}
	raw, err := os.ReadFile(p.Abs())
	if err != nil {
		return "", ReadMetadata{}, fmt.Errorf("read %q: %w", rel, workspace.ErrPermissionDenied)
	}
	if !utf8.Valid(raw) {
		return "", ReadMetadata{}, fmt.Errorf("file %q is not valid UTF-8 text: %w", rel, workspace.ErrBinaryOrInvalidEncoding)
	}
	content := string(raw)
	meta := ReadMetadata{
		SizeKB:   float64(info.Size()) / 1024,
		Modified: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		Lines:    strings.Count(content, "\n") + 1,
	}
	if err := f.recordContext("file_read", rel); err != nil {
		return "", ReadMetadata{}, err
	}
	return content, meta, nil
}

// WriteResult describes a successful write (spec.md §6.1 write_file).
type WriteResult struct {
	AbsPath     string
	Size        int
	Backup      string
	ContentHash string
}

// WriteFile ensures parent directories exist, backs up any existing file
// to "<name>.bak", writes content, and verifies by re-reading that the
// result matches byte-for-byte.
func (f *FileOps) WriteFile(rel, content string) (WriteResult, error) {
	p, err := f.Root.Sanitize(rel)
	if err != nil {
		return WriteResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p.Abs()), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create parent directories for %q: %w", rel, workspace.ErrPermissionDenied)
	}

	var backupName string
	if existing, err := os.ReadFile(p.Abs()); err == nil {
		backupName = filepath.Base(p.Abs()) + backupSuffix
		if werr := os.WriteFile(p.Abs()+backupSuffix, existing, 0o644); werr != nil {
			return WriteResult{}, fmt.Errorf("write backup for %q: %w", rel, workspace.ErrPermissionDenied)
		}
	}

	if err := os.WriteFile(p.Abs(), []byte(content), 0o644); err != nil {
		return WriteResult{}, fmt.Errorf("write %q: %w", rel, workspace.ErrPermissionDenied)
	}

	verify, err := os.ReadFile(p.Abs())
	if err != nil || !bytes.Equal(verify, []byte(content)) {
		return WriteResult{}, fmt.Errorf("verify write of %q: %w", rel, workspace.ErrWriteVerificationFailed)
	}

	if err := f.recordContext("file_write", rel); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{AbsPath: p.Abs(), Size: len(content), Backup: backupName, ContentHash: ContentHash(content)}, nil
}

// EditResult is the outcome of EditFile.
type EditResult struct {
	Applied    bool
	Diff       string
	Preview    string
	Ambiguous  bool
	AbsPath    string
	BackupName string

	// BaseHash is the content hash of the file as read, before this edit
	// was applied. A PendingEdit rendezvous file records it so the
	// ApprovalProtocol can detect the file changed out from under a
	// proposal before applying a stale approval (spec.md §4.5).
	BaseHash string
	// ContentHash is the content hash of the file after a confirmed edit.
	ContentHash string
}

// EditFile requires old_text to appear at least once. When old_text
// occurs more than once, only the first occurrence is replaced, and the
// caller is told so via EditResult.Ambiguous — implementations must not
// silently fan out. When confirm is false, the file on disk is not
// modified (the caller is expected to stage a PendingEdit); when confirm
// is true, a backup is taken, the new content is written and verified,
// and a file_edit ContextItem is recorded.
func (f *FileOps) EditFile(rel, oldText, newText string, confirm bool) (EditResult, error) {
	p, err := f.Root.Sanitize(rel)
	if err != nil {
		return EditResult{}, err
	}
	raw, err := os.ReadFile(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return EditResult{}, fmt.Errorf("file %q not found: %w", rel, workspace.ErrNotFound)
		}
		return EditResult{}, fmt.Errorf("read %q: %w", rel, workspace.ErrPermissionDenied)
	}
	current := string(raw)
	count := strings.Count(current, oldText)
	if count == 0 {
		return EditResult{}, fmt.Errorf("old_text not found in %q: %w", rel, workspace.ErrEditAnchorMissing)
	}
	updated := strings.Replace(current, oldText, newText, 1)

	result := EditResult{
		Diff:      unifiedDiff(rel, current, updated),
		Preview:   preview(updated, 500),
		Ambiguous: count > 1,
		AbsPath:   p.Abs(),
		BaseHash:  ContentHash(current),
	}

	if !confirm {
		return result, nil
	}

	backupName := filepath.Base(p.Abs()) + backupSuffix
	if werr := os.WriteFile(p.Abs()+backupSuffix, raw, 0o644); werr != nil {
		return EditResult{}, fmt.Errorf("write backup for %q: %w", rel, workspace.ErrPermissionDenied)
	}
	if err := os.WriteFile(p.Abs(), []byte(updated), 0o644); err != nil {
		return EditResult{}, fmt.Errorf("write %q: %w", rel, workspace.ErrPermissionDenied)
	}
	verify, err := os.ReadFile(p.Abs())
	if err != nil || string(verify) != updated {
		return EditResult{}, fmt.Errorf("verify edit of %q: %w", rel, workspace.ErrWriteVerificationFailed)
	}

	result.Applied = true
	result.BackupName = backupName
	result.ContentHash = ContentHash(updated)
	if err := f.recordContext("file_edit", rel); err != nil {
		return EditResult{}, err
	}
	return result, nil
}

// DirEntryInfo describes one child of a listed directory.
type DirEntryInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListResult is the structured response of ListDirectory (spec.md §6.1).
type ListResult struct {
	Path             string         `json:"path"`
	Files            []DirEntryInfo `json:"files"`
	FileCount        int            `json:"file_count"`
	FilteredHidden   int            `json:"filtered_hidden"`
	FilteredGitignore int           `json:"filtered_gitignore"`
	TotalEntries     int            `json:"total_entries"`
	Note             string         `json:"note"`
}

// ListDirectory filters hidden entries and gitignore matches, reporting
// both filtered counts so a client can distinguish "empty" from
// "all-filtered" (spec.md §8 round-trip law: file_count+filtered_hidden+
// filtered_gitignore == total_entries).
func (f *FileOps) ListDirectory(rel string) (ListResult, error) {
	p, err := f.Root.Sanitize(rel)
	if err != nil {
		return ListResult{}, err
	}
	info, err := os.Stat(p.Abs())
	if err != nil {
		return ListResult{}, fmt.Errorf("directory %q not found: %w", rel, workspace.ErrNotFound)
	}
	if !info.IsDir() {
		return ListResult{}, fmt.Errorf("%q is not a directory: %w", rel, workspace.ErrNotADirectory)
	}

	entries, err := os.ReadDir(p.Abs())
	if err != nil {
		return ListResult{}, fmt.Errorf("list %q: %w", rel, workspace.ErrPermissionDenied)
	}
	patterns, err := gitignore.Load(f.Root.String())
	if err != nil {
		return ListResult{}, fmt.Errorf("load gitignore: %w", err)
	}

	result := ListResult{Path: rel, TotalEntries: len(entries)}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			result.FilteredHidden++
			continue
		}
		childRel := filepath.Join(rel, e.Name())
		if rel == "." {
			childRel = e.Name()
		}
		if gitignore.IsIgnored(childRel, e.IsDir(), patterns) {
			result.FilteredGitignore++
			continue
		}
		var size int64
		if !e.IsDir() {
			if fi, err := e.Info(); err == nil {
				size = fi.Size()
			}
		}
		result.Files = append(result.Files, DirEntryInfo{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	result.FileCount = len(result.Files)
	if result.FileCount == 0 && result.TotalEntries > 0 {
		result.Note = fmt.Sprintf("directory has %d entries, all filtered (%d hidden, %d gitignored)", result.TotalEntries, result.FilteredHidden, result.FilteredGitignore)
	} else if result.TotalEntries == 0 {
		result.Note = "directory is empty"
	} else {
		result.Note = fmt.Sprintf("%d of %d entries shown", result.FileCount, result.TotalEntries)
	}
	return result, nil
}

// CreateDirectory is idempotent: success if the directory already exists;
// an error if a non-directory occupies the path.
func (f *FileOps) CreateDirectory(rel string) error {
	p, err := f.Root.Sanitize(rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(p.Abs()); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%q is a file: %w", rel, workspace.ErrPathIsFile)
		}
		return nil
	}
	if err := os.MkdirAll(p.Abs(), 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", rel, workspace.ErrPermissionDenied)
	}
	return nil
}

// SearchInFiles performs a case-insensitive substring search, bounded by
// MaxFilesPerScan files per call and guarded by MaxDirSizeGB.
func (f *FileOps) SearchInFiles(query, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**/*"
	}
	root := f.Root.String()

	var totalBytes int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			totalBytes += fi.Size()
		}
		return nil
	})
	maxBytes := int64(f.Limits.MaxDirSizeGB * float64(1<<30))
	if totalBytes > maxBytes {
		return nil, fmt.Errorf("watched root exceeds %.2f GiB scan guard: %w", f.Limits.MaxDirSizeGB, workspace.ErrRootTooLarge)
	}

	patterns, err := gitignore.Load(root)
	if err != nil {
		return nil, err
	}

	lowerQuery := strings.ToLower(query)
	var matches []string
	scanned := 0

	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		if strings.HasPrefix(filepath.Base(rel), ".") || gitignore.IsIgnored(rel, false, patterns) {
			return nil
		}
		if pattern != "**/*" {
			ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
			if !ok {
				return nil
			}
		}
		paths = append(paths, rel)
		return nil
	})
	sort.Strings(paths)

	for _, rel := range paths {
		if scanned >= f.Limits.MaxFilesPerScan {
			break
		}
		scanned++
		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if info.Size() > int64(f.Limits.MaxFileSizeKB)*1024 {
			continue
		}
		raw, err := os.ReadFile(abs)
		if err != nil || !utf8.Valid(raw) {
			continue
		}
		if strings.Contains(strings.ToLower(string(raw)), lowerQuery) {
			matches = append(matches, rel)
		}
	}
	return matches, nil
}

// recordContext records a ContextItem for a successful operation. Its
// failure aborts the triggering tool call rather than being logged and
// swallowed (spec.md §7): a caller must never see success for an
// operation whose ContextItem did not actually get persisted.
func (f *FileOps) recordContext(kind, rel string) error {
	if f.Store == nil {
		return nil
	}
	if err := f.Store.AddContext(kind, rel); err != nil {
		return fmt.Errorf("record %s context for %q: %w", kind, rel, err)
	}
	return nil
}

func preview(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n]
}

// unifiedDiff renders a minimal unified-diff-style rendering of the
// whole-file before/after. It is not a general line-matching differ; it
// is sufficient for the single-anchor replacement EditFile performs.
func unifiedDiff(rel, before, after string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", rel, rel)
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")
	for _, l := range beforeLines {
		if !containsLine(afterLines, l) {
			fmt.Fprintf(&b, "-%s\n", l)
		}
	}
	for _, l := range afterLines {
		if !containsLine(beforeLines, l) {
			fmt.Fprintf(&b, "+%s\n", l)
		}
	}
	return b.String()
}

func containsLine(lines []string, target string) bool {
	for _, l := range lines {
		if l == target {
			return true
		}
	}
	return false
}
