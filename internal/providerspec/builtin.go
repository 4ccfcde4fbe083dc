package providerspec

import "time"

// builtinSpecs covers exactly the four providers spec.md's ProviderConfig
// names: grok, openai, claude (canonicalized to "anthropic"), ollama.
var builtinSpecs = map[string]Spec{
	"grok": {
		Key: "grok",
		API: APISpec{
			Protocol:       ProtocolOpenAIChatCompletions,
			DefaultBaseURL: "https://api.x.ai",
			DefaultPath:    "/v1/chat/completions",
			APIKeyEnv:      "XAI_API_KEY",
			DefaultTimeout: 30 * time.Second,
		},
	},
	"openai": {
		Key: "openai",
		API: APISpec{
			Protocol:       ProtocolOpenAIChatCompletions,
			DefaultBaseURL: "https://api.openai.com",
			DefaultPath:    "/v1/chat/completions",
			APIKeyEnv:      "OPENAI_API_KEY",
			DefaultTimeout: 60 * time.Second,
		},
	},
	"anthropic": {
		Key:     "anthropic",
		Aliases: []string{"claude"},
		API: APISpec{
			Protocol:       ProtocolAnthropicMessages,
			DefaultBaseURL: "https://api.anthropic.com",
			DefaultPath:    "/v1/messages",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			DefaultTimeout: 90 * time.Second,
		},
	},
	"ollama": {
		Key: "ollama",
		API: APISpec{
			Protocol:       ProtocolOpenAIChatCompletions,
			DefaultBaseURL: "http://localhost:11434",
			DefaultPath:    "/v1/chat/completions",
			APIKeyEnv:      "",
			DefaultTimeout: 120 * time.Second,
		},
	},
}

func Builtin(key string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(key)]
	if !ok {
		return Spec{}, false
	}
	return cloneSpec(s), true
}

func Builtins() map[string]Spec {
	out := make(map[string]Spec, len(builtinSpecs))
	for key, spec := range builtinSpecs {
		out[key] = cloneSpec(spec)
	}
	return out
}

func cloneSpec(in Spec) Spec {
	out := in
	out.Aliases = append([]string{}, in.Aliases...)
	return out
}
