// Package config loads the server's YAML configuration file, following
// the strict-decode / defaults-then-validate shape used throughout the
// teacher's attractor engine config loader.
package config

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mikeychann-hash/fgd-server/internal/providerspec"
)

const (
	defaultContextLimit    = 20
	minContextLimit        = 5
	maxContextLimit        = 100
	defaultMaxMemoryEntries = 1000
	defaultMaxDirSizeGB     = 2
	defaultMaxFilesPerScan  = 5
	defaultMaxFileSizeKB    = 250
)

// ScanConfig bounds C4/FileOps' directory and file operations so a
// misconfigured WatchedRoot cannot turn a list/search call into an
// unbounded walk (spec.md §6's size/perf guardrails).
type ScanConfig struct {
	MaxDirSizeGB    *int `yaml:"max_dir_size_gb,omitempty"`
	MaxFilesPerScan *int `yaml:"max_files_per_scan,omitempty"`
	MaxFileSizeKB   *int `yaml:"max_file_size_kb,omitempty"`
}

// ProviderConfig mirrors spec.md §3's ProviderConfig: name, model,
// base_url, timeout_seconds, with timeout defaulted per-provider by
// providerspec.Builtin when omitted.
type ProviderConfig struct {
	Model          string `yaml:"model,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	TimeoutSeconds *int   `yaml:"timeout_seconds,omitempty"`
}

// LLMConfig selects the default provider and overrides its settings.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// Config is the root of the server's YAML configuration file.
type Config struct {
	WatchDir         string     `yaml:"watch_dir"`
	MemoryFile       string     `yaml:"memory_file,omitempty"`
	LogFile          string     `yaml:"log_file,omitempty"`
	ContextLimit     *int       `yaml:"context_limit,omitempty"`
	MaxMemoryEntries *int       `yaml:"max_memory_entries,omitempty"`
	Scan             ScanConfig `yaml:"scan,omitempty"`
	LLM              LLMConfig  `yaml:"llm,omitempty"`
}

// Load parses r as YAML, rejecting unknown fields, applies defaults, and
// validates the result.
func Load(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse config: multiple documents are not allowed")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = ".fgd_memory.json"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "fgd_server.log"
	}
	if cfg.ContextLimit == nil {
		v := defaultContextLimit
		cfg.ContextLimit = &v
	}
	if cfg.MaxMemoryEntries == nil {
		v := defaultMaxMemoryEntries
		cfg.MaxMemoryEntries = &v
	}
	if cfg.Scan.MaxDirSizeGB == nil {
		v := defaultMaxDirSizeGB
		cfg.Scan.MaxDirSizeGB = &v
	}
	if cfg.Scan.MaxFilesPerScan == nil {
		v := defaultMaxFilesPerScan
		cfg.Scan.MaxFilesPerScan = &v
	}
	if cfg.Scan.MaxFileSizeKB == nil {
		v := defaultMaxFileSizeKB
		cfg.Scan.MaxFileSizeKB = &v
	}
	if strings.TrimSpace(cfg.LLM.DefaultProvider) == "" {
		cfg.LLM.DefaultProvider = "openai"
	} else {
		cfg.LLM.DefaultProvider = providerspec.CanonicalProviderKey(cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.WatchDir) == "" {
		return fmt.Errorf("watch_dir is required")
	}
	if *cfg.ContextLimit < minContextLimit || *cfg.ContextLimit > maxContextLimit {
		return fmt.Errorf("context_limit must be between %d and %d, got %d", minContextLimit, maxContextLimit, *cfg.ContextLimit)
	}
	if *cfg.MaxMemoryEntries <= 0 {
		return fmt.Errorf("max_memory_entries must be > 0")
	}
	if *cfg.Scan.MaxDirSizeGB <= 0 {
		return fmt.Errorf("scan.max_dir_size_gb must be > 0")
	}
	if *cfg.Scan.MaxFilesPerScan <= 0 {
		return fmt.Errorf("scan.max_files_per_scan must be > 0")
	}
	if *cfg.Scan.MaxFileSizeKB <= 0 {
		return fmt.Errorf("scan.max_file_size_kb must be > 0")
	}
	for name, pc := range cfg.LLM.Providers {
		canonical := providerspec.CanonicalProviderKey(name)
		if _, ok := providerspec.Builtin(canonical); !ok {
			return fmt.Errorf("llm.providers.%s: unknown provider (want grok|openai|claude|ollama)", name)
		}
		if pc.TimeoutSeconds != nil && *pc.TimeoutSeconds <= 0 {
			return fmt.Errorf("llm.providers.%s.timeout_seconds must be > 0", name)
		}
	}
	if _, ok := providerspec.Builtin(cfg.LLM.DefaultProvider); !ok {
		return fmt.Errorf("llm.default_provider: unknown provider %q (want grok|openai|claude|ollama)", cfg.LLM.DefaultProvider)
	}
	return nil
}
