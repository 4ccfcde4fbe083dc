// Package llmrouter implements spec.md §4.8 (LLMRouter, C8): provider
// resolution, context injection, per-provider timeouts, retry with
// backoff (delegated to internal/llm's RetryMiddleware), and conversation
// persistence into the MemoryStore.
package llmrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeychann-hash/fgd-server/internal/config"
	"github.com/mikeychann-hash/fgd-server/internal/llm"
	"github.com/mikeychann-hash/fgd-server/internal/llm/providers/anthropic"
	"github.com/mikeychann-hash/fgd-server/internal/llm/providers/openai"
	"github.com/mikeychann-hash/fgd-server/internal/llm/providers/openaicompat"
	"github.com/mikeychann-hash/fgd-server/internal/memory"
	"github.com/mikeychann-hash/fgd-server/internal/providerspec"
	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

// ConversationEntry is stored under memories.conversations keyed
// "chat_<uuid>" (spec.md §3).
type ConversationEntry struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Provider    string    `json:"provider"`
	Timestamp   time.Time `json:"timestamp"`
	ContextUsed int       `json:"context_used"`
}

// Router is the C8 LLMRouter: it owns the llm.Client, the per-provider
// model/timeout overrides from config, and a handle to the MemoryStore
// for context injection and conversation persistence.
type Router struct {
	client          *llm.Client
	store           *memory.Store
	providers       map[string]config.ProviderConfig
	defaultProvider string
	logger          *log.Logger
}

// New builds a Router from cfg, registering one adapter per builtin
// provider. API keys are read from each provider's environment variable
// at construction time; a provider without a key is still registered
// (ollama needs none) and a missing key surfaces as an auth error only
// when that provider is actually queried.
func New(cfg config.LLMConfig, store *memory.Store, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(os.Stderr, "[llmrouter] ", log.LstdFlags)
	}
	client := llm.NewClient()
	client.Use(llm.RetryMiddleware())

	grokOverride := cfg.Providers["grok"]
	client.Register(openaicompat.New("grok", os.Getenv("XAI_API_KEY"), resolveBaseURL("grok", grokOverride)))

	client.Register(openai.New(os.Getenv("OPENAI_API_KEY"), resolveBaseURL("openai", cfg.Providers["openai"])))

	anthropicOverride := cfg.Providers["anthropic"]
	client.Register(anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), resolveBaseURL("anthropic", anthropicOverride)))

	ollamaOverride := cfg.Providers["ollama"]
	client.Register(openaicompat.New("ollama", "", resolveBaseURL("ollama", ollamaOverride)))

	def := providerspec.CanonicalProviderKey(cfg.DefaultProvider)
	if def == "" {
		def = "openai"
	}
	client.SetDefaultProvider(def)

	return &Router{
		client:          client,
		store:           store,
		providers:       cfg.Providers,
		defaultProvider: def,
		logger:          logger,
	}
}

// Client exposes the underlying llm.Client so tests (and alternative
// wiring, e.g. a local mock provider) can register adapters that override
// the defaults built in New.
func (r *Router) Client() *llm.Client { return r.client }

func resolveBaseURL(provider string, override config.ProviderConfig) string {
	if override.BaseURL != "" {
		return override.BaseURL
	}
	if spec, ok := providerspec.Builtin(provider); ok {
		return spec.API.DefaultBaseURL
	}
	return ""
}

// Query resolves provider (or the configured default), assembles a prompt
// from the last 5 context items plus the caller's prompt, issues the call
// under the provider's configured timeout, persists a ConversationEntry on
// success, and returns the assistant's reply text (spec.md §4.8).
func (r *Router) Query(ctx context.Context, prompt string, provider string) (string, error) {
	name := provider
	if strings.TrimSpace(name) == "" {
		name = r.defaultProvider
	}
	canonical := providerspec.CanonicalProviderKey(name)
	spec, ok := providerspec.Builtin(canonical)
	if !ok {
		return "", fmt.Errorf("provider %q: %w", name, workspace.ErrProviderUnknown)
	}

	contextItems, err := r.store.RecentContext(5)
	if err != nil {
		return "", fmt.Errorf("load recent context: %w", err)
	}
	fullPrompt := serializeContext(contextItems) + "\n\n" + prompt

	override := r.providers[canonical]
	model := override.Model
	if model == "" {
		model = canonical
	}
	timeout := spec.API.DefaultTimeout
	if override.TimeoutSeconds != nil && *override.TimeoutSeconds > 0 {
		timeout = time.Duration(*override.TimeoutSeconds) * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.client.Complete(callCtx, llm.Request{
		Provider: canonical,
		Model:    model,
		Messages: []llm.Message{llm.User(fullPrompt)},
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("provider %q timed out after %s: %w", canonical, timeout, workspace.ErrProviderTimeout)
		}
		if llm.IsAuthenticationError(err) {
			return "", fmt.Errorf("provider %q: %w", canonical, workspace.ErrProviderAuthMissing)
		}
		return "", fmt.Errorf("provider %q: %w", canonical, workspace.ErrProviderHTTP)
	}

	entry := ConversationEntry{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		Response:    resp.Text(),
		Provider:    canonical,
		Timestamp:   time.Now(),
		ContextUsed: len(contextItems),
	}
	// spec.md §7: a memory-persist failure aborts the triggering tool call
	// rather than being logged and swallowed, so a caller never sees
	// success for an llm_query whose conversation entry did not land.
	if err := r.store.RememberConversation("chat_"+entry.ID, entry); err != nil {
		return "", fmt.Errorf("persist conversation entry: %w", err)
	}

	return resp.Text(), nil
}

// serializeContext renders context items as compact JSON lines so the
// provider sees structured, bounded context rather than Go's %v syntax.
func serializeContext(items []memory.ContextItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent workspace context:\n")
	for _, it := range items {
		b.WriteString("- ")
		if data, err := json.Marshal(it); err == nil {
			b.Write(data)
		} else {
			fmt.Fprintf(&b, "%+v", it)
		}
		b.WriteString("\n")
	}
	return b.String()
}
