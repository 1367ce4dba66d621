package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"elevenlabs", "openai"},
	"embeddings": {"openai", "ollama"},
	"audio":      {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in documented
// defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued CoreConfig fields with the defaults
// documented in §6's Configuration table.
func applyDefaults(cfg *Config) {
	c := &cfg.Core
	if c.SyncHz == 0 {
		c.SyncHz = 60
	}
	if c.AutonomyHz == 0 {
		c.AutonomyHz = 10
	}
	if c.SchedulerHz == 0 {
		c.SchedulerHz = 10
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 1024
	}
	if c.CacheMaxBytes == 0 {
		c.CacheMaxBytes = 64 << 20
	}
	if c.EngagementThreshold == 0 {
		c.EngagementThreshold = 0.6
	}
	if c.Proactivity == 0 {
		c.Proactivity = 0.8
	}
	if c.PriorityWeights == (PriorityWeights{}) {
		c.PriorityWeights = PriorityWeights{Confidence: 0.5, Novelty: 0.3, Emotion: 0.2}
	}
	if c.PerPriorityCaps == (PriorityCaps{}) {
		c.PerPriorityCaps = PriorityCaps{Critical: 1.0, High: 0.75, Medium: 0.5, Low: 0.25}
	}
	if c.StarvationTimeouts == (StarvationTimeouts{}) {
		c.StarvationTimeouts = defaultStarvation
	}
	if c.PortDeadline == 0 {
		c.PortDeadline = defaultPortDeadline
	}
	if c.SessionBackoff == 0 {
		c.SessionBackoff = defaultSessionBackoff
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set")
	}

	if cfg.Core.EngagementThreshold < 0 || cfg.Core.EngagementThreshold > 1 {
		errs = append(errs, fmt.Errorf("core.engagement_threshold %.2f is out of range [0,1]", cfg.Core.EngagementThreshold))
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
