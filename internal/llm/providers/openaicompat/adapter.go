// Package openaicompat adapts any provider that speaks the OpenAI
// chat-completions wire shape but isn't OpenAI itself: grok and ollama
// per spec.md §4.8's provider semantics. The API key is optional (ollama
// runs unauthenticated against a local base URL).
package openaicompat

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
)

// Adapter speaks the OpenAI chat-completions shape against an arbitrary
// base URL, reporting Name() as the caller-supplied provider name.
type Adapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

// New constructs an Adapter. apiKey may be empty (e.g. ollama).
func New(provider, apiKey, baseURL string) *Adapter {
	return &Adapter{
		Provider: strings.ToLower(strings.TrimSpace(provider)),
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:   &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.Provider }

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
	if a.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.NewRequestTimeoutError(a.Provider, err.Error())
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
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Provider, resp.StatusCode, msg, nil, llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("%s: empty choices in response", a.Provider)
	}
	return llm.Response{
		Provider: a.Provider,
		Model:    req.Model,
		Message:  llm.Assistant(parsed.Choices[0].Message.Content),
	}, nil
}
