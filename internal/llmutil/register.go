package llmutil

import (
	"github.com/efebarandurmaz/graphsight/internal/llm"
	"github.com/efebarandurmaz/graphsight/internal/llm/anthropic"
	"github.com/efebarandurmaz/graphsight/internal/llm/openai"
)

// RegisterDefaultProviders registers all built-in LLM provider constructors
// (anthropic, openai, and the OpenAI-compatible presets) into factory.
// Both cmd/graphsight and cmd/worker call this.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	for _, name := range []string{"groq", "ollama", "together", "openrouter", "custom"} {
		preset := llm.KnownProviders[name]
		factory.Register(name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = preset
			}
			return openai.New(c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
}
