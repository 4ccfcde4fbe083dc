package providerspec

import (
	"strings"
	"sync"
	"time"
)

// APIProtocol names the wire shape a provider's HTTP endpoint speaks.
type APIProtocol string

const (
	ProtocolOpenAIChatCompletions APIProtocol = "openai_chat_completions"
	ProtocolAnthropicMessages     APIProtocol = "anthropic_messages"
)

// APISpec describes how to reach and authenticate against a provider's
// completion endpoint.
type APISpec struct {
	Protocol       APIProtocol
	DefaultBaseURL string
	DefaultPath    string
	APIKeyEnv      string
	DefaultTimeout time.Duration
}

// Spec is a provider's canonical identity plus its API shape.
type Spec struct {
	Key     string
	Aliases []string
	API     APISpec
}

var (
	providerAliasOnce  sync.Once
	providerAliasIndex map[string]string
)

func providerAliases() map[string]string {
	providerAliasOnce.Do(func() {
		providerAliasIndex = providerAliasIndexFromBuiltins(Builtins())
	})
	return providerAliasIndex
}

func providerAliasIndexFromBuiltins(specs map[string]Spec) map[string]string {
	out := map[string]string{}
	for rawKey, spec := range specs {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		out[key] = key
		for _, rawAlias := range spec.Aliases {
			alias := strings.ToLower(strings.TrimSpace(rawAlias))
			if alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

// CanonicalProviderKey resolves an alias (e.g. "claude") to its canonical
// builtin key (e.g. "anthropic"). Unknown names pass through unchanged so
// that ProviderUnknown classification stays the caller's responsibility
// (spec.md §4.8).
func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := providerAliases()[key]; ok {
		return canonical
	}
	return key
}
