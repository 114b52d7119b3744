// Package secrets resolves credentials (oracle API keys, store passwords)
// from the environment or a local secrets file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when no provider holds the requested key.
var ErrNotFound = errors.New("secret not found")

// Key names a credential.
type Key string

const (
	LLMAPIKey     Key = "llm_api_key"
	Neo4jPassword Key = "neo4j_password"
	QdrantAPIKey  Key = "qdrant_api_key"
)

// DefaultEnvPrefix matches the configuration's environment prefix.
const DefaultEnvPrefix = "GRAPHSIGHT_"

// providerEnv lists the conventional variables each vendor's own tooling
// reads, consulted after GRAPHSIGHT_LLM_API_KEY.
var providerEnv = map[string][]string{
	"openai":     {"OPENAI_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"groq":       {"GROQ_API_KEY"},
	"together":   {"TOGETHER_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY"},
}

// keyless providers run locally and accept any key.
var keyless = map[string]bool{"ollama": true, "none": true, "": true}

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Manager looks secrets up in its providers in order and caches hits.
type Manager struct {
	providers []Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a Manager. With no providers it reads the environment
// under DefaultEnvPrefix.
func NewManager(providers ...Provider) *Manager {
	if len(providers) == 0 {
		providers = []Provider{NewEnvProvider(DefaultEnvPrefix)}
	}
	return &Manager{providers: providers, cache: make(map[string]string)}
}

// FromFile returns a Manager that reads path first and falls back to the
// environment. An empty path means environment only.
func FromFile(path string) (*Manager, error) {
	env := NewEnvProvider(DefaultEnvPrefix)
	if path == "" {
		return NewManager(env), nil
	}
	f, err := NewFileProvider(path)
	if err != nil {
		return nil, err
	}
	return NewManager(f, env), nil
}

// Get returns the first non-empty value any provider holds for key.
func (m *Manager) Get(ctx context.Context, key Key) (string, error) {
	k := string(key)
	m.mu.RLock()
	v, ok := m.cache[k]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	for _, p := range m.providers {
		v, err := p.Get(ctx, k)
		if err != nil || v == "" {
			continue
		}
		m.mu.Lock()
		m.cache[k] = v
		m.mu.Unlock()
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// GetOrDefault returns the secret for key, or def when none is set.
func (m *Manager) GetOrDefault(ctx context.Context, key Key, def string) string {
	v, err := m.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// APIKey resolves the key for an oracle provider. A configured value wins;
// then llm_api_key from the providers; then the vendor's conventional
// variable. Local providers never fail.
func (m *Manager) APIKey(ctx context.Context, provider, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v, err := m.Get(ctx, LLMAPIKey); err == nil {
		return v, nil
	}
	for _, name := range providerEnv[strings.ToLower(provider)] {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	if keyless[strings.ToLower(provider)] {
		return "", nil
	}
	return "", fmt.Errorf("%w: api key for provider %q", ErrNotFound, provider)
}

// EnvProvider reads secrets from environment variables, trying the
// prefixed upper-case name first and then the bare one.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an EnvProvider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(key)
	if v := os.Getenv(p.prefix + name); v != "" {
		return v, nil
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: env %s%s", ErrNotFound, p.prefix, name)
}
