// Package gitbridge implements spec.md §4.7 (GitBridge, C7): status/diff/
// log/commit with timeouts and an availability probe, adapted from the
// teacher's internal/attractor/gitutil in structure (bytes.Buffer capture,
// error wrapping around each git invocation) but narrowed to the Core's
// four operations.
package gitbridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

const defaultTimeout = 10 * time.Second

var commitHashPattern = regexp.MustCompile(`\[(?:[^\]]*\s)?([a-f0-9]+)\]`)

// Bridge runs git subprocesses against a fixed directory with an
// enforced per-call timeout.
type Bridge struct {
	Dir     string
	Timeout time.Duration

	once      sync.Once
	available bool
	probeErr  error
}

// New constructs a Bridge rooted at dir with the default 10s per-call
// timeout.
func New(dir string) *Bridge {
	return &Bridge{Dir: dir, Timeout: defaultTimeout}
}

func (b *Bridge) timeout() time.Duration {
	if b.Timeout <= 0 {
		return defaultTimeout
	}
	return b.Timeout
}

// Available reports whether git is on PATH and Dir is a git working tree.
// The result is cached for the process lifetime (spec.md §4.7).
func (b *Bridge) Available(ctx context.Context) bool {
	b.once.Do(func() {
		if _, err := exec.LookPath("git"); err != nil {
			b.probeErr = fmt.Errorf("git not found on PATH: %w", workspace.ErrGitUnavailable)
			return
		}
		out, _, err := b.run(ctx, "rev-parse", "--is-inside-work-tree")
		if err != nil || strings.TrimSpace(out) != "true" {
			b.probeErr = fmt.Errorf("%q is not a git working tree: %w", b.Dir, workspace.ErrNotAGitRepo)
			return
		}
		b.available = true
	})
	return b.available
}

func (b *Bridge) ensureAvailable(ctx context.Context) error {
	if !b.Available(ctx) {
		if b.probeErr != nil {
			return b.probeErr
		}
		return fmt.Errorf("git unavailable: %w", workspace.ErrGitUnavailable)
	}
	return nil
}

// Status returns `git status --porcelain` output.
func (b *Bridge) Status(ctx context.Context) (string, error) {
	if err := b.ensureAvailable(ctx); err != nil {
		return "", err
	}
	out, _, err := b.run(ctx, "status", "--porcelain")
	return out, err
}

// Diff returns the working-tree diff, optionally scoped to files.
func (b *Bridge) Diff(ctx context.Context, files []string) (string, error) {
	if err := b.ensureAvailable(ctx); err != nil {
		return "", err
	}
	args := []string{"diff"}
	args = append(args, files...)
	out, _, err := b.run(ctx, args...)
	return out, err
}

// Log returns the last limit commits in one-line form.
func (b *Bridge) Log(ctx context.Context, limit int) (string, error) {
	if err := b.ensureAvailable(ctx); err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = 10
	}
	out, _, err := b.run(ctx, "log", "--oneline", "-n", strconv.Itoa(limit))
	return out, err
}

// Commit stages all changes and commits with message, returning the
// short commit hash parsed from git's bracketed summary line
// (`[<branch> <hash>] message`) via a regex anchored on brackets — never
// by positional split (spec.md §4.7).
func (b *Bridge) Commit(ctx context.Context, message string) (string, error) {
	if err := b.ensureAvailable(ctx); err != nil {
		return "", err
	}
	if _, _, err := b.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	out, _, err := b.run(ctx, "commit", "-m", message)
	if err != nil {
		return "", err
	}
	match := commitHashPattern.FindStringSubmatch(out)
	if len(match) != 2 {
		return "", fmt.Errorf("could not parse commit hash from: %q", out)
	}
	return match[1], nil
}

// run executes git with args against b.Dir, enforcing a per-call timeout
// and returning a structured error (never a raw panic/raise) on timeout
// or non-zero exit.
func (b *Bridge) run(ctx context.Context, args ...string) (stdout string, stderr string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", append([]string{"-C", b.Dir}, args...)...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout, stderr, fmt.Errorf("git %s timed out after %s: %w", strings.Join(args, " "), b.timeout(), workspace.ErrGitTimeout)
	}
	if runErr != nil {
		return stdout, stderr, fmt.Errorf("git %s failed: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr), workspace.ErrGitUnavailable)
	}
	return stdout, stderr, nil
}
