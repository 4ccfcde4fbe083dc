package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikeychann-hash/fgd-server/internal/approval"
	"github.com/mikeychann-hash/fgd-server/internal/fileops"
	"github.com/mikeychann-hash/fgd-server/internal/gitbridge"
	"github.com/mikeychann-hash/fgd-server/internal/llmrouter"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
)

// objectSchema builds a JSON-Schema "object" parameter description from a
// property map and a required-field list — the shape every tool in the
// fixed catalogue uses.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "description": description, "default": def}
}

func intProp(description string, def int) map[string]any {
	return map[string]any{"type": "integer", "description": description, "default": def}
}

func arrayOfStringsProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string"},
	}
}

// RegisterWorkspaceTools registers the fixed catalogue of 12 tools named
// in spec.md §4.9 against the Core components that implement them.
func RegisterWorkspaceTools(d *Dispatcher, files *fileops.FileOps, proto *approval.Protocol, bridge *gitbridge.Bridge, router *llmrouter.Router, store *memory.Store) error {
	registrations := []Tool{
		{
			Name:        "list_directory",
			Description: "List the files and subdirectories of a directory inside the watched root.",
			Parameters: objectSchema(map[string]any{
				"path": stringProp("Path relative to the watched root. Defaults to \".\"."),
			}),
			Handler: listDirectoryHandler(files),
		},
		{
			Name:        "read_file",
			Description: "Read a text file inside the watched root.",
			Parameters: objectSchema(map[string]any{
				"path": stringProp("Path relative to the watched root."),
			}, "path"),
			Handler: readFileHandler(files),
		},
		{
			Name:        "write_file",
			Description: "Write (creating or overwriting) a text file inside the watched root.",
			Parameters: objectSchema(map[string]any{
				"path":    stringProp("Path relative to the watched root."),
				"content": stringProp("Full file content to write."),
			}, "path", "content"),
			Handler: writeFileHandler(files),
		},
		{
			Name:        "edit_file",
			Description: "Replace the first occurrence of old_text with new_text in a file. Without confirm=true this stages a pending edit awaiting approval.",
			Parameters: objectSchema(map[string]any{
				"path":     stringProp("Path relative to the watched root."),
				"old_text": stringProp("Text that must appear at least once in the file."),
				"new_text": stringProp("Replacement text."),
				"confirm":  boolProp("Apply immediately instead of staging a pending edit.", false),
			}, "path", "old_text", "new_text"),
			Handler: editFileHandler(files, proto),
		},
		{
			Name:        "create_directory",
			Description: "Create a directory (and any missing parents) inside the watched root. Idempotent.",
			Parameters: objectSchema(map[string]any{
				"path": stringProp("Path relative to the watched root."),
			}, "path"),
			Handler: createDirectoryHandler(files),
		},
		{
			Name:        "search_in_files",
			Description: "Case-insensitive substring search across text files inside the watched root.",
			Parameters: objectSchema(map[string]any{
				"query":   stringProp("Substring to search for."),
				"pattern": stringProp("Doublestar glob restricting which files are scanned. Defaults to \"**/*\"."),
			}, "query"),
			Handler: searchInFilesHandler(files),
		},
		{
			Name:        "git_diff",
			Description: "Show the working-tree diff, optionally scoped to specific files.",
			Parameters: objectSchema(map[string]any{
				"files": arrayOfStringsProp("Optional list of paths to scope the diff to."),
			}),
			Handler: gitDiffHandler(bridge),
		},
		{
			Name:        "git_commit",
			Description: "Stage all changes and create a commit.",
			Parameters: objectSchema(map[string]any{
				"message": stringProp("Commit message."),
			}, "message"),
			Handler: gitCommitHandler(bridge, store),
		},
		{
			Name:        "git_log",
			Description: "Show recent commits in one-line form.",
			Parameters: objectSchema(map[string]any{
				"limit": intProp("Maximum number of commits to show.", 10),
			}),
			Handler: gitLogHandler(bridge),
		},
		{
			Name:        "llm_query",
			Description: "Ask a configured LLM provider a question, with recent workspace context automatically injected.",
			Parameters: objectSchema(map[string]any{
				"prompt":   stringProp("The question or instruction to send."),
				"provider": stringProp("Provider name (grok, openai, claude/anthropic, ollama). Defaults to the configured default."),
			}, "prompt"),
			Handler: llmQueryHandler(router),
		},
		{
			Name:        "remember",
			Description: "Store a value under a key, optionally categorised.",
			Parameters: objectSchema(map[string]any{
				"key":      stringProp("Memory key."),
				"category": stringProp("Memory category. Defaults to \"general\"."),
				"value":    map[string]any{"description": "Value to store; any JSON type."},
			}, "key", "value"),
			Handler: rememberHandler(store),
		},
		{
			Name:        "recall",
			Description: "Retrieve stored values. With both key and category, returns one entry. With only category, returns the whole category. With neither, returns everything.",
			Parameters: objectSchema(map[string]any{
				"key":      stringProp("Memory key."),
				"category": stringProp("Memory category."),
			}),
			Handler: recallHandler(store),
		},
	}

	for _, t := range registrations {
		if err := d.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

func listDirectoryHandler(files *fileops.FileOps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path := optionalStringArg(args, "path", ".")
		result, err := files.ListDirectory(path)
		if err != nil {
			return "", err
		}
		return marshalText(result)
	}
}

func readFileHandler(files *fileops.FileOps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		content, meta, err := files.ReadFile(path)
		if err != nil {
			return "", err
		}
		return marshalText(map[string]any{
			"content":  content,
			"size_kb":  meta.SizeKB,
			"modified": meta.Modified,
			"lines":    meta.Lines,
		})
	}
}

func writeFileHandler(files *fileops.FileOps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return "", err
		}
		result, err := files.WriteFile(path, content)
		if err != nil {
			return "", err
		}
		msg := fmt.Sprintf("wrote %d bytes to %s", result.Size, result.AbsPath)
		if result.Backup != "" {
			msg += fmt.Sprintf(" (backed up previous content to %s)", result.Backup)
		}
		return msg, nil
	}
}

// editFileHandler implements the confirm=false/true branch of spec.md
// §4.4/§4.5: without confirm it computes the diff/preview and stages a
// PendingEdit rendezvous file rather than touching the file on disk; with
// confirm=true it applies the edit immediately, bypassing the approval
// hand-off (for a caller that already has out-of-band approval). The CLI
// companion's "approve" does not come through here: it writes the approval
// file, and the approval loop applies the edit itself.
func editFileHandler(files *fileops.FileOps, proto *approval.Protocol) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		oldText, err := stringArg(args, "old_text")
		if err != nil {
			return "", err
		}
		newText, err := stringArg(args, "new_text")
		if err != nil {
			return "", err
		}
		confirm := optionalBoolArg(args, "confirm", false)

		result, err := files.EditFile(path, oldText, newText, confirm)
		if err != nil {
			return "", err
		}

		if !confirm {
			if proto != nil {
				pending := approval.PendingEdit{
					Filepath: path,
					OldText:  oldText,
					NewText:  newText,
					Diff:     result.Diff,
					Preview:  result.Preview,
					BaseHash: result.BaseHash,
				}
				if werr := proto.WritePending(pending); werr != nil {
					return "", fmt.Errorf("stage pending edit: %w", werr)
				}
			}
			return marshalText(map[string]any{
				"action":  "confirm_edit",
				"diff":    result.Diff,
				"preview": result.Preview,
				"message": "pending approval",
			})
		}

		msg := fmt.Sprintf("applied edit to %s (backup: %s)", result.AbsPath, result.BackupName)
		if result.Ambiguous {
			msg += "; old_text matched more than once, only the first occurrence was replaced"
		}
		return msg, nil
	}
}

func createDirectoryHandler(files *fileops.FileOps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return "", err
		}
		if err := files.CreateDirectory(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("directory %q ready", path), nil
	}
}

func searchInFilesHandler(files *fileops.FileOps) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return "", err
		}
		pattern := optionalStringArg(args, "pattern", "**/*")
		matches, err := files.SearchInFiles(query, pattern)
		if err != nil {
			return "", err
		}
		return marshalText(map[string]any{"matches": matches, "count": len(matches)})
	}
}

func gitDiffHandler(bridge *gitbridge.Bridge) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		files := optionalStringSliceArg(args, "files")
		diff, err := bridge.Diff(ctx, files)
		if err != nil {
			return "", err
		}
		if diff == "" {
			return "no changes", nil
		}
		return diff, nil
	}
}

func gitCommitHandler(bridge *gitbridge.Bridge, store *memory.Store) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		message, err := stringArg(args, "message")
		if err != nil {
			return "", err
		}
		hash, err := bridge.Commit(ctx, message)
		if err != nil {
			return "", err
		}
		// spec.md §4.7: the message is recorded in memories.commits; a
		// failure to record it aborts the call rather than being swallowed
		// (spec.md §7), even though the commit itself already succeeded.
		if store != nil {
			if err := store.Remember(hash, "commits", message); err != nil {
				return "", fmt.Errorf("record commit %s in memory: %w", hash, err)
			}
		}
		return fmt.Sprintf("committed %s: %s", hash, message), nil
	}
}

func gitLogHandler(bridge *gitbridge.Bridge) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		limit := optionalIntArg(args, "limit", 10)
		out, err := bridge.Log(ctx, limit)
		if err != nil {
			return "", err
		}
		return out, nil
	}
}

func llmQueryHandler(router *llmrouter.Router) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		prompt, err := stringArg(args, "prompt")
		if err != nil {
			return "", err
		}
		provider := optionalStringArg(args, "provider", "")
		return router.Query(ctx, prompt, provider)
	}
}

func rememberHandler(store *memory.Store) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return "", err
		}
		category := optionalStringArg(args, "category", "")
		value, ok := args["value"]
		if !ok {
			return "", fmt.Errorf("missing required argument %q", "value")
		}
		if err := store.Remember(key, category, value); err != nil {
			return "", err
		}
		return fmt.Sprintf("remembered %q", key), nil
	}
}

func recallHandler(store *memory.Store) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		key := optionalStringArg(args, "key", "")
		category := optionalStringArg(args, "category", "")

		if key != "" {
			value, found, err := store.Recall(key, category)
			if err != nil {
				return "", err
			}
			if !found {
				return marshalText(map[string]any{"found": false})
			}
			return marshalText(map[string]any{"found": true, "value": value})
		}
		if category != "" {
			entries, err := store.RecallCategory(category)
			if err != nil {
				return "", err
			}
			return marshalText(entries)
		}
		all, err := store.RecallAll()
		if err != nil {
			return "", err
		}
		return marshalText(all)
	}
}

func marshalText(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}
