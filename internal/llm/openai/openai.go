// Package openai implements llm.Provider for OpenAI-compatible chat APIs
// (OpenAI, Groq, Ollama, vLLM, OpenRouter) including vision input.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/efebarandurmaz/graphsight/internal/llm"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultEmbedModel = "text-embedding-3-small"
	defaultMaxTokens  = 4096
)

// Client implements llm.Provider on top of go-openai.
type Client struct {
	client     *goopenai.Client
	model      string
	baseURL    string
	embedModel string
	detail     goopenai.ImageURLDetail
}

// New creates an OpenAI-compatible provider.
func New(apiKey, model, baseURL, embedModel string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		client:     goopenai.NewClientWithConfig(cfg),
		model:      model,
		baseURL:    baseURL,
		embedModel: embedModel,
		detail:     goopenai.ImageURLDetailHigh,
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: c.messages(prompt),
	}

	info, _ := llm.LookupModel(c.model)
	if !info.Reasoning {
		req.MaxTokens = defaultMaxTokens
	}
	if opts != nil {
		if opts.MaxTokens != nil && !info.Reasoning {
			req.MaxTokens = *opts.MaxTokens
		}
		if opts.Temperature != nil && !info.Reasoning {
			req.Temperature = *opts.Temperature
		}
		if opts.TopP != nil {
			req.TopP = *opts.TopP
		}
		if len(opts.StopSeqs) > 0 {
			req.Stop = opts.StopSeqs
		}
		if opts.JSONMode {
			req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
				Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	return &llm.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(resp.Choices[0].FinishReason),
	}, nil
}

func (c *Client) messages(prompt *llm.Prompt) []goopenai.ChatCompletionMessage {
	var msgs []goopenai.ChatCompletionMessage
	if prompt.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: prompt.SystemPrompt,
		})
	}
	for _, m := range prompt.Messages {
		if len(m.Images) == 0 {
			msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := make([]goopenai.ChatMessagePart, 0, len(m.Images)+1)
		for _, img := range m.Images {
			parts = append(parts, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: img.DataURL(), Detail: c.detail},
			})
		}
		if m.Content != "" {
			parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: m.Content})
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), MultiContent: parts})
	}
	return msgs
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, translateError(err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// translateError maps go-openai errors onto llm.StatusError so retry and
// oracle classification work the same across providers.
func translateError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &llm.StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &llm.StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}
	}
	return fmt.Errorf("openai: %w", err)
}
