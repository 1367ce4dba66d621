package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/nyxveil/corona/internal/config"
)

func TestLoadFromReader_AppliesCoreDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Core.AutonomyHz != 10 {
		t.Errorf("core.autonomy_hz default: got %v, want 10", cfg.Core.AutonomyHz)
	}
	if cfg.Core.SchedulerHz != 10 {
		t.Errorf("core.scheduler_hz default: got %v, want 10", cfg.Core.SchedulerHz)
	}
	if cfg.Core.CacheTTL != 60*time.Second {
		t.Errorf("core.cache_ttl default: got %v, want 60s", cfg.Core.CacheTTL)
	}
	if cfg.Core.Proactivity != 0.8 {
		t.Errorf("core.proactivity default: got %v, want 0.8", cfg.Core.Proactivity)
	}
	if cfg.Core.PriorityWeights != (config.PriorityWeights{Confidence: 0.5, Novelty: 0.3, Emotion: 0.2}) {
		t.Errorf("core.priority_weights default: got %+v", cfg.Core.PriorityWeights)
	}
	if cfg.Core.StarvationTimeouts.Low != 60*time.Second {
		t.Errorf("core.starvation_timeouts.low default: got %v, want 60s", cfg.Core.StarvationTimeouts.Low)
	}
	if cfg.Core.SessionBackoff != 5*time.Second {
		t.Errorf("core.session_backoff default: got %v, want 5s", cfg.Core.SessionBackoff)
	}
}

func TestLoadFromReader_ExplicitCoreValuesNotOverwritten(t *testing.T) {
	t.Parallel()
	yaml := `
core:
  sync_hz: 30
  autonomy_hz: 5
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Core.SyncHz != 30 {
		t.Errorf("core.sync_hz: got %v, want 30 (explicit value should not be overwritten)", cfg.Core.SyncHz)
	}
	if cfg.Core.AutonomyHz != 5 {
		t.Errorf("core.autonomy_hz: got %v, want 5", cfg.Core.AutonomyHz)
	}
	// Untouched fields still receive their defaults.
	if cfg.Core.SchedulerHz != 10 {
		t.Errorf("core.scheduler_hz default: got %v, want 10", cfg.Core.SchedulerHz)
	}
}

func TestValidate_UnknownProviderNameWarnsNotErrors(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: some-future-provider
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unknown provider names should only warn, not fail validation: %v", err)
	}
}

func TestValidate_MCPServerMissingName(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - transport: stdio
      command: /bin/tool
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing mcp server name, got nil")
	}
	if !strings.Contains(err.Error(), "name") {
		t.Errorf("error should mention name, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: shout
core:
  engagement_threshold: 2.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "engagement_threshold") {
		t.Errorf("error should mention engagement_threshold, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
