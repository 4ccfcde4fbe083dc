// Package anthropic adapts the Anthropic messages API to llm.ProviderAdapter.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeychann-hash/fgd-server/internal/llm"
	"github.com/mikeychann-hash/fgd-server/internal/providerspec"
)

const anthropicVersion = "2023-06-01"

// Adapter speaks the Anthropic messages shape: POST {base}/v1/messages
// with x-api-key and anthropic-version headers.
type Adapter struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// New constructs an Adapter against baseURL (defaulting to the builtin
// spec's DefaultBaseURL when empty).
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		if spec, ok := providerspec.Builtin("anthropic"); ok {
			baseURL = spec.API.DefaultBaseURL
		}
	}
	return &Adapter{
		APIKey:  strings.TrimSpace(apiKey),
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	var system strings.Builder
	var messages []anthropicMessage
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		default:
			role := string(m.Role)
			if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
				role = string(llm.RoleUser)
			}
			messages = append(messages, anthropicMessage{Role: role, Content: m.Content})
		}
	}

	maxTokens := 4096
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system.String(),
		Messages:    messages,
		Temperature: req.Temperature,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.NewRequestTimeoutError("anthropic", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, err
	}

	var parsed anthropicResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 300 {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return llm.Response{}, llm.ErrorFromHTTPStatus("anthropic", resp.StatusCode, msg, nil, llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	if len(parsed.Content) == 0 {
		return llm.Response{}, fmt.Errorf("anthropic: empty content in response")
	}
	return llm.Response{
		Provider: "anthropic",
		Model:    req.Model,
		Message:  llm.Assistant(parsed.Content[0].Text),
	}, nil
}
