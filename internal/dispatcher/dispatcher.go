// Package dispatcher implements spec.md §4.9 (ToolDispatcher, C9): a fixed
// catalogue of tools, each with a JSON-Schema-validated input, dispatched
// by name. A handler's error never crosses the transport boundary as a
// raised exception — it is rendered as an "Error: <message>" text result,
// matching the teacher's tool_registry.go envelope discipline.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

// Handler executes one tool call against already-validated arguments and
// returns the text to send back to the caller.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is one entry in the fixed catalogue: a name, a human-readable
// description, a JSON-Schema describing its arguments, and the handler
// that executes it.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler

	schema *jsonschema.Schema
}

// Result is the outcome of a CallTool invocation. IsError mirrors MCP's
// tool-result envelope: errors are reported as text, not as a transport
// fault (spec.md §4.9).
type Result struct {
	Text    string
	IsError bool
}

// Dispatcher holds the fixed tool catalogue and executes calls against it.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New returns an empty Dispatcher ready for Register calls.
func New() *Dispatcher {
	return &Dispatcher{tools: map[string]*Tool{}}
}

// Register compiles t.Parameters as a JSON Schema and adds t to the
// catalogue. A tool without a Handler is a programmer error.
func (d *Dispatcher) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: missing handler", t.Name)
	}
	schema, err := compileSchema(t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", t.Name, err)
	}
	t.schema = schema

	d.mu.Lock()
	defer d.mu.Unlock()
	tc := t
	d.tools[t.Name] = &tc
	return nil
}

// ListTools returns the catalogue sorted by name, for the transport's
// tools/list response.
func (d *Dispatcher) ListTools() []Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool validates args against the named tool's schema and invokes its
// handler. An unknown tool name, a schema violation, or a handler error
// all become a text Result with IsError set — CallTool returns only a
// Result and never an error.
func (d *Dispatcher) CallTool(ctx context.Context, name string, rawArgs json.RawMessage) Result {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		return errorResult(fmt.Errorf("%q: %w", name, workspace.ErrUnknownTool))
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult(fmt.Errorf("invalid arguments for %s: %w", name, err))
		}
	}

	if err := t.schema.Validate(args); err != nil {
		return errorResult(fmt.Errorf("arguments for %s failed validation: %w", name, err))
	}

	text, err := t.Handler(ctx, args)
	if err != nil {
		return errorResult(fmt.Errorf("%s: %w", name, err))
	}
	return Result{Text: text}
}

func errorResult(err error) Result {
	return Result{Text: "Error: " + err.Error(), IsError: true}
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// stringArg reads a required string argument, already schema-validated as
// present and typed, but defensively checked here since args is a bare
// map[string]any.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}

func optionalBoolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optionalIntArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func optionalStringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
