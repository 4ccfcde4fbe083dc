// Package openai adapts the OpenAI chat-completions API to llm.ProviderAdapter.
package openai

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

// Adapter speaks the OpenAI chat-completions shape: POST {base}/v1/chat/completions
// with an Authorization: Bearer header.
type Adapter struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// New constructs an Adapter against baseURL (defaulting to the builtin spec's
// DefaultBaseURL when empty) using apiKey for bearer auth.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		if spec, ok := providerspec.Builtin("openai"); ok {
			baseURL = spec.API.DefaultBaseURL
		}
	}
	return &Adapter{
		APIKey:  strings.TrimSpace(apiKey),
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	body := chatRequest{Model: req.Model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.NewRequestTimeoutError("openai", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, err
	}

	var parsed chatResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 300 {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return llm.Response{}, llm.ErrorFromHTTPStatus("openai", resp.StatusCode, msg, nil, llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai: empty choices in response")
	}
	return llm.Response{
		Provider: "openai",
		Model:    req.Model,
		Message:  llm.Assistant(parsed.Choices[0].Message.Content),
	}, nil
}
