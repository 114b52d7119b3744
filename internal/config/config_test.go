package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Empty(t *testing.T) {
	cfg := &Config{}
	warnings := cfg.Validate()
	if len(warnings) != 0 {
		t.Errorf("empty config should have no warnings, got %v", warnings)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{Provider: "openai"},
	}
	if !hasWarning(cfg.Validate(), "api_key") {
		t.Error("expected warning about missing api_key")
	}
}

func TestValidate_InvalidTemperature(t *testing.T) {
	tests := []struct {
		name string
		temp float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"normal", 0.7, false},
		{"max", 2.0, false},
		{"negative", -1, true},
		{"too_high", 3.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LLM: LLMConfig{Temperature: tt.temp}}
			if got := hasWarning(cfg.Validate(), "temperature"); got != tt.want {
				t.Errorf("temperature=%.1f: hasWarn=%v, want=%v", tt.temp, got, tt.want)
			}
		})
	}
}

func TestValidate_Engine(t *testing.T) {
	tests := []struct {
		name   string
		engine EngineConfig
		warn   string
	}{
		{"negative steps", EngineConfig{MaxSteps: -1}, "max_steps"},
		{"negative cost", EngineConfig{MaxCost: -0.5}, "max_cost"},
		{"tolerance too large", EngineConfig{Tolerance: 5000}, "tolerance"},
		{"bad traversal", EngineConfig{Traversal: "random"}, "traversal"},
		{"negative audit passes", EngineConfig{AuditPasses: -2}, "audit_passes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Engine: tt.engine}
			if !hasWarning(cfg.Validate(), tt.warn) {
				t.Errorf("expected warning about %s", tt.warn)
			}
		})
	}
}

func TestValidate_LocalProviders(t *testing.T) {
	// "none" and "ollama" need no API key
	for _, p := range []string{"none", "ollama"} {
		cfg := &Config{LLM: LLMConfig{Provider: p}}
		if hasWarning(cfg.Validate(), "api_key") {
			t.Errorf("%q provider should not warn about missing api_key", p)
		}
	}
}

func TestValidate_BridgeUsesEmbeddedScript(t *testing.T) {
	cfg := &Config{Bridge: BridgeConfig{Enabled: true}}
	if hasWarning(cfg.Validate(), "bridge") {
		t.Error("an empty bridge.script falls back to the embedded parser and should not warn")
	}
}

func TestResolveForRole(t *testing.T) {
	cfg := LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o",
		APIKey:   "key1",
		Roles: map[string]LLMRoleOverride{
			RoleDetector: {Model: "gpt-4o-mini"},
			RoleRefine:   {Provider: "anthropic", Model: "claude-sonnet-4", APIKey: "key2"},
		},
	}

	detector := cfg.ResolveForRole(RoleDetector)
	if detector.Provider != "openai" || detector.Model != "gpt-4o-mini" || detector.APIKey != "key1" {
		t.Errorf("detector override not applied: %+v", detector)
	}

	refine := cfg.ResolveForRole(RoleRefine)
	if refine.Provider != "anthropic" || refine.APIKey != "key2" {
		t.Errorf("refine override not applied: %+v", refine)
	}

	// Unknown role should return base config
	if base := cfg.ResolveForRole("unknown"); base.Model != "gpt-4o" {
		t.Errorf("expected base model=gpt-4o, got %s", base.Model)
	}
	if !cfg.HasRole(RoleRefine) || cfg.HasRole("unknown") {
		t.Error("HasRole mismatch")
	}
}

func TestProviderConfig(t *testing.T) {
	cfg := LLMConfig{Provider: "groq", Model: "llama", Timeout: time.Minute, MaxRetries: 5, RequestsPerMinute: 30}
	pc := cfg.ProviderConfig()
	if pc.Provider != "groq" || pc.Model != "llama" || pc.Timeout != time.Minute || pc.MaxRetries != 5 || pc.RequestsPerMinute != 30 {
		t.Errorf("unexpected provider config: %+v", pc)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxSteps != 30 {
		t.Errorf("max_steps = %d, want 30", cfg.Engine.MaxSteps)
	}
	if cfg.Engine.HistoryWindow != 15 {
		t.Errorf("history_window = %d, want 15", cfg.Engine.HistoryWindow)
	}
	if cfg.Engine.Tolerance != 100 {
		t.Errorf("tolerance = %.0f, want 100", cfg.Engine.Tolerance)
	}
	if cfg.Temporal.TaskQueue != "graphsight" {
		t.Errorf("task_queue = %q", cfg.Temporal.TaskQueue)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphsight.yaml")
	data := `llm:
  provider: anthropic
  model: claude-sonnet-4
engine:
  max_steps: 12
  traversal: bfs
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRAPHSIGHT_LLM_API_KEY", "from-env")
	t.Setenv("GRAPHSIGHT_ENGINE_MAX_COST", "0.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.Engine.MaxSteps != 12 || cfg.Engine.Traversal != "bfs" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.LLM.APIKey)
	}
	if cfg.Engine.MaxCost != 0.5 {
		t.Errorf("max_cost = %v, want 0.5", cfg.Engine.MaxCost)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
