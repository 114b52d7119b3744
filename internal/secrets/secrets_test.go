package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvProvider_Get(t *testing.T) {
	t.Setenv("GRAPHSIGHT_NEO4J_PASSWORD", "prefixed")
	t.Setenv("QDRANT_API_KEY", "bare")

	p := NewEnvProvider(DefaultEnvPrefix)
	ctx := context.Background()

	if v, err := p.Get(ctx, "neo4j_password"); err != nil || v != "prefixed" {
		t.Fatalf("expected prefixed, got %q %v", v, err)
	}
	if v, err := p.Get(ctx, "qdrant_api_key"); err != nil || v != "bare" {
		t.Fatalf("expected bare, got %q %v", v, err)
	}
	if _, err := p.Get(ctx, "graphsight_missing_secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"llm_api_key": "sk-file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "file" {
		t.Fatalf("expected 'file', got %s", p.Name())
	}
	if v, _ := p.Get(context.Background(), "llm_api_key"); v != "sk-file" {
		t.Fatalf("expected sk-file, got %q", v)
	}
	if _, err := p.Get(context.Background(), "neo4j_password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_MissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileProvider(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("missing file should be empty, got %v", err)
	}
	if len(p.data) != 0 {
		t.Fatalf("expected empty data, got %v", p.data)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("not json"), 0o600)
	if _, err := NewFileProvider(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

type countingProvider struct {
	values map[string]string
	calls  int
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Get(_ context.Context, key string) (string, error) {
	c.calls++
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func TestManager_OrderAndCache(t *testing.T) {
	first := &countingProvider{values: map[string]string{"neo4j_password": ""}}
	second := &countingProvider{values: map[string]string{"neo4j_password": "from-second"}}
	m := NewManager(first, second)
	ctx := context.Background()

	v, err := m.Get(ctx, Neo4jPassword)
	if err != nil || v != "from-second" {
		t.Fatalf("expected from-second, got %q %v", v, err)
	}
	m.Get(ctx, Neo4jPassword)
	if second.calls != 1 {
		t.Fatalf("expected cached lookup, got %d calls", second.calls)
	}

	if got := m.GetOrDefault(ctx, QdrantAPIKey, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestManager_APIKey(t *testing.T) {
	ctx := context.Background()
	empty := NewManager(&countingProvider{})

	tests := []struct {
		name       string
		m          *Manager
		env        map[string]string
		provider   string
		configured string
		want       string
		wantErr    bool
	}{
		{name: "configured wins", m: empty, provider: "openai", configured: "sk-config", want: "sk-config"},
		{name: "manager key", m: NewManager(&countingProvider{values: map[string]string{"llm_api_key": "sk-mgr"}}), provider: "openai", want: "sk-mgr"},
		{name: "vendor variable", m: empty, env: map[string]string{"ANTHROPIC_API_KEY": "sk-ant"}, provider: "anthropic", want: "sk-ant"},
		{name: "local provider", m: empty, provider: "ollama", want: ""},
		{name: "missing", m: empty, env: map[string]string{"OPENROUTER_API_KEY": ""}, provider: "openrouter", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := tt.m.APIKey(ctx, tt.provider, tt.configured)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFromFile(t *testing.T) {
	t.Setenv("GRAPHSIGHT_QDRANT_API_KEY", "env-key")
	path := filepath.Join(t.TempDir(), "secrets.json")
	os.WriteFile(path, []byte(`{"neo4j_password": "file-pass"}`), 0o600)

	m, err := FromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if v, _ := m.Get(ctx, Neo4jPassword); v != "file-pass" {
		t.Fatalf("expected file-pass, got %q", v)
	}
	if v, _ := m.Get(ctx, QdrantAPIKey); v != "env-key" {
		t.Fatalf("expected env-key, got %q", v)
	}
}
