package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mikeychann-hash/fgd-server/internal/llm"
)

func TestAdapter_Complete_MapsSystemAndMessagesToAnthropicShape(t *testing.T) {
	var gotBody anthropicRequest
	var gotKey, gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		b, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		_ = json.Unmarshal(b, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Hello"}]}`))
	}))
	t.Cleanup(srv.Close)

	a := &Adapter{APIKey: "k", BaseURL: srv.URL, Client: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := a.Complete(ctx, llm.Request{
		Model:    "claude-opus",
		Messages: []llm.Message{llm.System("be terse"), llm.User("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "Hello" {
		t.Fatalf("text: got %q", resp.Text())
	}
	if gotKey != "k" || gotVersion != anthropicVersion {
		t.Fatalf("headers: key=%q version=%q", gotKey, gotVersion)
	}
	if gotBody.System != "be terse" {
		t.Fatalf("system: got %q", gotBody.System)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Role != "user" {
		t.Fatalf("messages: %+v", gotBody.Messages)
	}
}

func TestAdapter_Complete_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	t.Cleanup(srv.Close)

	a := &Adapter{APIKey: "k", BaseURL: srv.URL, Client: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.Complete(ctx, llm.Request{Model: "claude-opus", Messages: []llm.Message{llm.User("hi")}})
	e, ok := err.(llm.Error)
	if !ok {
		t.Fatalf("expected llm.Error, got %T", err)
	}
	if !e.Retryable() {
		t.Fatalf("expected 503 to be retryable")
	}
}
