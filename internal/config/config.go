package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/graphsight/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	EmbedModel        string        `mapstructure:"embed_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`

	// Per-role overrides. Keys are "detector" and "refine"; each override
	// inherits unset fields from the top-level LLM config.
	Roles map[string]LLMRoleOverride `mapstructure:"roles"`
}

// LLMRoleOverride points one oracle role at a different provider or model.
type LLMRoleOverride struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// Oracle roles that accept overrides.
const (
	RoleDetector = "detector"
	RoleRefine   = "refine"
)

// ResolveForRole returns an LLMConfig with role-specific overrides applied.
func (c LLMConfig) ResolveForRole(role string) LLMConfig {
	override, ok := c.Roles[role]
	if !ok {
		return c
	}
	resolved := c
	if override.Provider != "" {
		resolved.Provider = override.Provider
	}
	if override.Model != "" {
		resolved.Model = override.Model
	}
	if override.APIKey != "" {
		resolved.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		resolved.BaseURL = override.BaseURL
	}
	return resolved
}

// ProviderConfig converts the section into what llm.ProviderFactory needs.
func (c LLMConfig) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:          c.Provider,
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		EmbedModel:        c.EmbedModel,
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// HasRole reports whether role has its own override.
func (c LLMConfig) HasRole(role string) bool {
	_, ok := c.Roles[role]
	return ok
}

type EngineConfig struct {
	MaxSteps      int     `mapstructure:"max_steps"`
	MaxIterations int     `mapstructure:"max_iterations"`
	MaxCost       float64 `mapstructure:"max_cost"`
	MaxCalls      int     `mapstructure:"max_calls"`
	Traversal     string  `mapstructure:"traversal"`
	IdentityMode  string  `mapstructure:"identity_mode"`
	Tolerance     float64 `mapstructure:"tolerance"`
	HistoryWindow int     `mapstructure:"history_window"`
	UseGrid       bool    `mapstructure:"use_grid"`
	Structured    bool    `mapstructure:"structured"`
	Audit         bool    `mapstructure:"audit"`
	AuditPasses   int     `mapstructure:"audit_passes"`
	// FallbackType is used when detection fails; "unknown" disables it.
	FallbackType string `mapstructure:"fallback_type"`
	Concurrency  int    `mapstructure:"concurrency"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

type BridgeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Command string        `mapstructure:"command"`
	Script  string        `mapstructure:"script"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.embed_model", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("engine.max_steps", 30)
	v.SetDefault("engine.max_iterations", 0)
	v.SetDefault("engine.max_cost", 0.0)
	v.SetDefault("engine.max_calls", 0)
	v.SetDefault("engine.use_grid", false)
	v.SetDefault("engine.structured", false)
	v.SetDefault("engine.audit", false)
	v.SetDefault("engine.audit_passes", 10)
	v.SetDefault("engine.traversal", "dfs")
	v.SetDefault("engine.identity_mode", "hybrid")
	v.SetDefault("engine.tolerance", 100)
	v.SetDefault("engine.history_window", 15)
	v.SetDefault("engine.fallback_type", "flowchart")
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", ".graphsight/cache")
	v.SetDefault("cache.ttl", 7*24*time.Hour)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("vector.host", "")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "graphsight_diagrams")
	v.SetDefault("vector.dimension", 1536)
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "graphsight")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "graphsight")
	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.command", "node")
	v.SetDefault("bridge.script", "")
	v.SetDefault("bridge.timeout", 30*time.Second)
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Check for empty API key with active provider (skip "none" and local providers)
	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	// Check temperature range [0, 2.0]
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	// Check for negative max_tokens
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.Engine.MaxSteps < 0 {
		warnings = append(warnings, fmt.Sprintf("engine max_steps %d is negative, the default applies", c.Engine.MaxSteps))
	}
	if c.Engine.AuditPasses < 0 {
		warnings = append(warnings, fmt.Sprintf("engine audit_passes %d is negative, the default applies", c.Engine.AuditPasses))
	}
	if c.Engine.MaxCost < 0 {
		warnings = append(warnings, fmt.Sprintf("engine max_cost %.2f is negative, cost is unbounded", c.Engine.MaxCost))
	}
	if c.Engine.Tolerance < 0 || c.Engine.Tolerance > 1000 {
		warnings = append(warnings, fmt.Sprintf("engine tolerance %.0f is outside the 0-1000 coordinate space", c.Engine.Tolerance))
	}
	switch strings.ToLower(c.Engine.Traversal) {
	case "", "dfs", "bfs":
	default:
		warnings = append(warnings, fmt.Sprintf("engine traversal %q is not dfs or bfs", c.Engine.Traversal))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path uses
// defaults and GRAPHSIGHT_ environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GRAPHSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
