package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
)

// rpcRequest is a newline-framed JSON-RPC 2.0 request as sent by an MCP
// client over stdio. id is left as json.RawMessage so both numeric and
// string ids round-trip untouched.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDefinition `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Transport is the newline-framed JSON-RPC 2.0 stdio loop that exposes a
// Dispatcher's catalogue over MCP's tools/list and tools/call methods. It
// never writes anything but complete JSON-RPC messages to stdout — any
// diagnostic output goes to Logger (stderr by default), since a stray
// line on stdout would corrupt the protocol stream (spec.md §4.9).
type Transport struct {
	Dispatcher *Dispatcher
	Logger     *log.Logger
}

// NewTransport builds a Transport over d.
func NewTransport(d *Dispatcher, logger *log.Logger) *Transport {
	return &Transport{Dispatcher: d, Logger: logger}
}

// Serve reads newline-framed JSON-RPC requests from r and writes responses
// to w until ctx is cancelled or r returns EOF. One request is handled at
// a time, in arrival order.
func (t *Transport) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			t.logf("skipping unparsable line (%d bytes): %v", len(line), err)
			continue
		}

		resp := t.handle(ctx, req)
		if resp == nil {
			// Notification (no id): MCP does not expect a reply.
			continue
		}
		if err := t.writeResponse(w, *resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request stream: %w", err)
	}
	return nil
}

func (t *Transport) handle(ctx context.Context, req rpcRequest) *rpcResponse {
	switch req.Method {
	case "tools/list":
		return t.handleList(req)
	case "tools/call":
		return t.handleCall(ctx, req)
	case "initialize":
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fgd-server", "version": "1.0.0"},
		}}
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}}
	}
}

func (t *Transport) handleList(req rpcRequest) *rpcResponse {
	tools := t.Dispatcher.ListTools()
	defs := make([]toolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, toolDefinition{Name: tool.Name, Description: tool.Description, InputSchema: tool.Parameters})
	}
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: defs}}
}

func (t *Transport) handleCall(ctx context.Context, req rpcRequest) *rpcResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}}
	}
	result := t.Dispatcher.CallTool(ctx, params.Name, params.Arguments)
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: toolsCallResult{
		Content: []toolContent{{Type: "text", Text: result.Text}},
		IsError: result.IsError,
	}}
}

func (t *Transport) writeResponse(w io.Writer, resp rpcResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func (t *Transport) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}
