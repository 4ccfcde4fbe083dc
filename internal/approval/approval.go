// Package approval implements the file-mediated rendezvous between the
// Core and an external UI described in spec.md §4.5 (ApprovalProtocol,
// C5): an edit_file call without confirm writes a PendingEdit file; the
// UI writes an Approval file; a background loop applies or rejects it.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mikeychann-hash/fgd-server/internal/fileops"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

const (
	pendingEditFile   = ".fgd_pending_edit.json"
	approvalFile      = ".fgd_approval.json"
	defaultPollPeriod = 2 * time.Second
)

// PendingEdit is the on-disk rendezvous file written by FileOps.EditFile
// when confirm is false (spec.md §3).
type PendingEdit struct {
	// ID is a ulid (lexicographically time-sortable) assigned by
	// WritePending if the caller leaves it blank, so a UI or log line can
	// reference one specific proposal even across the rare case of two
	// proposals for the same file in quick succession.
	ID       string `json:"id,omitempty"`
	Filepath string `json:"filepath"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
	Diff     string `json:"diff"`
	Preview  string `json:"preview"`
	// BaseHash is the blake3 content hash of the file as it stood when
	// this proposal was staged; the background loop refuses to apply an
	// approval if the file's current hash no longer matches it (spec.md
	// §4.5: "approval referencing a filepath ... changed out of band").
	BaseHash  string    `json:"base_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Approval is the on-disk rendezvous file written by the UI.
type Approval struct {
	Approved  bool      `json:"approved"`
	Filepath  string    `json:"filepath"`
	OldText   string    `json:"old_text,omitempty"`
	NewText   string    `json:"new_text,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Protocol owns the two rendezvous files and the background loop that
// consumes Approval files. It owns neither FileOps nor the memory Store;
// both are passed in at construction (spec.md §9 design notes).
type Protocol struct {
	Root       workspace.Root
	Files      *fileops.FileOps
	Store      *memory.Store
	PollPeriod time.Duration
	Logger     *log.Logger
}

// New constructs a Protocol with a default 2-second poll period.
func New(root workspace.Root, files *fileops.FileOps, store *memory.Store, logger *log.Logger) *Protocol {
	if logger == nil {
		logger = log.New(os.Stderr, "[approval] ", log.LstdFlags)
	}
	return &Protocol{Root: root, Files: files, Store: store, PollPeriod: defaultPollPeriod, Logger: logger}
}

func (p *Protocol) pendingPath() string  { return filepath.Join(p.Root.String(), pendingEditFile) }
func (p *Protocol) approvalPath() string { return filepath.Join(p.Root.String(), approvalFile) }

// WritePending overwrites any existing PendingEdit. A new edit_file
// proposal abandons whichever proposal was previously pending (spec.md
// §4.5 state machine).
func (p *Protocol) WritePending(pe PendingEdit) error {
	if pe.ID == "" {
		pe.ID = ulid.Make().String()
	}
	data, err := json.MarshalIndent(pe, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending edit: %w", err)
	}
	return os.WriteFile(p.pendingPath(), data, 0o644)
}

// ReadPending returns the current PendingEdit, if any.
func (p *Protocol) ReadPending() (*PendingEdit, bool, error) {
	raw, err := os.ReadFile(p.pendingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var pe PendingEdit
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, false, err
	}
	return &pe, true, nil
}

// Run polls the approval file with period p.PollPeriod until ctx is
// cancelled, applying or rejecting each Approval it finds. Cancellation
// is propagated, not swallowed: the loop returns ctx.Err() within one
// poll period of cancellation.
func (p *Protocol) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(); err != nil {
				p.Logger.Printf("WARN: approval tick failed: %v", err)
			}
		}
	}
}

func (p *Protocol) pollPeriod() time.Duration {
	if p.PollPeriod <= 0 {
		return defaultPollPeriod
	}
	return p.PollPeriod
}

// tick is one iteration of the background loop: read the approval file
// (if present) and process it. An unparsable approval file is removed on
// its own; once an approval has been parsed, both rendezvous files are
// removed when done so a stale file never blocks the next proposal.
func (p *Protocol) tick() error {
	raw, err := os.ReadFile(p.approvalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var appr Approval
	if err := json.Unmarshal(raw, &appr); err != nil {
		// Stale/partial approval JSON: delete and continue (spec.md §4.5).
		p.Logger.Printf("WARN: discarding unparsable approval file: %v", err)
		os.Remove(p.approvalPath())
		return nil
	}

	pending, havePending, perr := p.ReadPending()
	if perr != nil {
		p.Logger.Printf("WARN: discarding unreadable pending edit: %v", perr)
		havePending = false
	}

	defer func() {
		os.Remove(p.approvalPath())
		os.Remove(p.pendingPath())
	}()

	if !havePending || pending.Filepath != appr.Filepath {
		_ = p.Store.AddContext("file_edit_rejected", map[string]string{
			"filepath": appr.Filepath,
			"reason":   "stale approval: no matching pending edit",
		})
		return fmt.Errorf("approval references %q with no matching pending edit: %w", appr.Filepath, workspace.ErrStaleApproval)
	}

	if pending.BaseHash != "" {
		if pp, serr := p.Root.Sanitize(pending.Filepath); serr == nil {
			if raw, rerr := os.ReadFile(pp.Abs()); rerr == nil {
				if fileops.ContentHash(string(raw)) != pending.BaseHash {
					_ = p.Store.AddContext("file_edit_rejected", map[string]string{
						"filepath": appr.Filepath,
						"reason":   "file changed out of band since the edit was proposed",
					})
					return fmt.Errorf("file %q changed since proposal: %w", appr.Filepath, workspace.ErrStaleApproval)
				}
			}
		}
	}

	if !appr.Approved {
		if err := p.Store.AddContext("file_edit_rejected", map[string]string{
			"filepath": appr.Filepath,
			"reason":   appr.Reason,
		}); err != nil {
			return fmt.Errorf("record rejection of %q: %w", appr.Filepath, err)
		}
		return nil
	}

	oldText := appr.OldText
	if oldText == "" {
		oldText = pending.OldText
	}
	newText := appr.NewText
	if newText == "" {
		newText = pending.NewText
	}

	if _, err := p.Files.EditFile(appr.Filepath, oldText, newText, true); err != nil {
		_ = p.Store.AddContext("file_edit_rejected", map[string]string{
			"filepath": appr.Filepath,
			"reason":   err.Error(),
		})
		return fmt.Errorf("apply approved edit to %q: %w", appr.Filepath, workspace.ErrStaleApproval)
	}
	return nil
}
