// Command fgd-ctl is a terminal companion to the Workspace Core's
// ApprovalProtocol (C5, spec.md §4.5): it reads and writes the two
// rendezvous files directly, exercising the same file contract a desktop
// UI would, without touching any other Core state. It performs no
// workspace mutation itself — only the approval/pending JSON files.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

const (
	pendingEditFile = ".fgd_pending_edit.json"
	approvalFile    = ".fgd_approval.json"
)

// pendingEdit mirrors internal/approval.PendingEdit's on-disk shape. It is
// redeclared here rather than imported so fgd-ctl stays a standalone
// binary that only depends on the file format, not on Core internals.
type pendingEdit struct {
	ID        string    `json:"id,omitempty"`
	Filepath  string    `json:"filepath"`
	OldText   string    `json:"old_text"`
	NewText   string    `json:"new_text"`
	Diff      string    `json:"diff"`
	Preview   string    `json:"preview"`
	BaseHash  string    `json:"base_hash"`
	Timestamp time.Time `json:"timestamp"`
}

type approval struct {
	Approved  bool      `json:"approved"`
	Filepath  string    `json:"filepath"`
	OldText   string    `json:"old_text,omitempty"`
	NewText   string    `json:"new_text,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	var root string

	rootCmd := &cobra.Command{
		Use:   "fgd-ctl",
		Short: "Approve or reject pending fgd-server edits from a terminal",
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "watched root directory")

	rootCmd.AddCommand(
		newPendingCmd(&root),
		newApproveCmd(&root),
		newRejectCmd(&root),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPendingCmd(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show the currently pending edit, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			pe, ok, err := readPending(*root)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending edit")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file: %s\n", pe.Filepath)
			fmt.Fprintf(cmd.OutOrStdout(), "staged: %s\n", pe.Timestamp.Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), "--- diff ---")
			fmt.Fprintln(cmd.OutOrStdout(), pe.Diff)
			return nil
		},
	}
}

func newApproveCmd(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <path>",
		Short: "Approve the pending edit for <path>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDecision(*root, args[0], true, "")
		},
	}
}

func newRejectCmd(root *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <path>",
		Short: "Reject the pending edit for <path>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDecision(*root, args[0], false, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for rejection")
	return cmd
}

func readPending(root string) (*pendingEdit, bool, error) {
	raw, err := os.ReadFile(filepath.Join(root, pendingEditFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var pe pendingEdit
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", pendingEditFile, err)
	}
	return &pe, true, nil
}

// writeDecision validates path against the currently pending proposal (to
// catch an operator approving the wrong file before fgd-server's own
// stale-approval check would) and writes the Approval rendezvous file.
func writeDecision(root, path string, approved bool, reason string) error {
	pe, ok, err := readPending(root)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no pending edit to decide on")
	}
	if pe.Filepath != path {
		return fmt.Errorf("pending edit is for %q, not %q", pe.Filepath, path)
	}

	appr := approval{
		Approved:  approved,
		Filepath:  path,
		OldText:   pe.OldText,
		NewText:   pe.NewText,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	data, err := json.MarshalIndent(appr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, approvalFile), data, 0o644)
}
