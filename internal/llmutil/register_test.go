package llmutil_test

import (
	"testing"

	"github.com/efebarandurmaz/graphsight/internal/llm"
	"github.com/efebarandurmaz/graphsight/internal/llmutil"
)

func TestRegisterDefaultProviders(t *testing.T) {
	f := llm.NewFactory()
	llmutil.RegisterDefaultProviders(f)

	want := []string{"anthropic", "custom", "groq", "ollama", "openai", "openrouter", "together"}
	got := f.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}

	p, err := f.Create(llm.ProviderConfig{Provider: "ollama", Model: "llava"})
	if err != nil || p == nil || p.Name() != "openai" {
		t.Fatalf("expected openai-compatible client for ollama, got %v, %v", p, err)
	}
}
