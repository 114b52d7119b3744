package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/llm"
	"github.com/efebarandurmaz/graphsight/internal/llmutil"
	"github.com/efebarandurmaz/graphsight/internal/observability"
)

const systemPrompt = "You read diagram images precisely. Report only what is visibly drawn: " +
	"a connection exists only if a line or arrow joins two shapes. " +
	"Coordinates are [ymin, xmin, ymax, xmax] normalized to 0-1000."

const clarification = "Your previous reply could not be parsed (%v). " +
	"Reply again with a single JSON object that follows the requested schema exactly, with no prose and no code fences."

// LLMOracle implements VisionOracle on top of an llm.Provider with vision
// support. It is safe for concurrent use if the provider is.
type LLMOracle struct {
	provider    llm.Provider
	model       string
	logger      *slog.Logger
	audit       *observability.AuditLogger
	temperature *float32
	maxTokens   *int
}

// Option configures an LLMOracle.
type Option func(*LLMOracle)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *LLMOracle) { o.logger = l }
}

// WithAudit sends oracle call events to the audit log.
func WithAudit(a *observability.AuditLogger) Option {
	return func(o *LLMOracle) { o.audit = a }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *LLMOracle) { o.temperature = llm.Float32(t) }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *LLMOracle) {
		if n > 0 {
			o.maxTokens = llm.Int(n)
		}
	}
}

// NewLLMOracle creates an oracle. model is used for pricing when the
// provider does not echo one back.
func NewLLMOracle(p llm.Provider, model string, opts ...Option) *LLMOracle {
	o := &LLMOracle{provider: p, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *LLMOracle) FindInitialFocus(ctx context.Context, req *Request) (*Response, error) {
	return o.structured(ctx, OpInitialFocus, req, decodeInitial)
}

func (o *LLMOracle) InterpretStep(ctx context.Context, req *Request) (*Response, error) {
	return o.structured(ctx, OpInterpretStep, req, decodeStep)
}

func (o *LLMOracle) AuditNode(ctx context.Context, req *Request) (*Response, error) {
	return o.structured(ctx, OpAuditNode, req, decodeAudit)
}

func (o *LLMOracle) Refine(ctx context.Context, req *Request) (*Text, error) {
	return o.text(ctx, OpRefine, req)
}

func (o *LLMOracle) Classify(ctx context.Context, req *Request) (*Text, error) {
	return o.text(ctx, OpClassify, req)
}

func (o *LLMOracle) text(ctx context.Context, op string, req *Request) (*Text, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, usage, err := o.call(ctx, op, prompt, false)
	if err != nil {
		return nil, err
	}
	return &Text{Content: llmutil.StripMarkdownFences(resp.Content), Usage: usage}, nil
}

func (o *LLMOracle) structured(ctx context.Context, op string, req *Request, decode func(string) (*Response, error)) (*Response, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	raw, usage, err := o.call(ctx, op, prompt, true)
	if err != nil {
		return nil, err
	}
	resp, decodeErr := decode(raw.Content)
	if decodeErr == nil {
		resp.Usage = usage
		return resp, nil
	}

	o.logger.Warn("malformed oracle reply, re-prompting", "op", op, "error", decodeErr)
	prompt.Messages = append(prompt.Messages,
		llm.Message{Role: llm.RoleAssistant, Content: raw.Content},
		llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(clarification, decodeErr)},
	)
	raw, retryUsage, err := o.call(ctx, op, prompt, true)
	usage = usage.Add(retryUsage)
	if err != nil {
		return &Response{Usage: usage}, err
	}
	resp, decodeErr = decode(raw.Content)
	if decodeErr != nil {
		return &Response{Usage: usage}, fmt.Errorf("oracle: %s: %w: %v", op, ErrMalformedResponse, decodeErr)
	}
	resp.Usage = usage
	return resp, nil
}

func (o *LLMOracle) call(ctx context.Context, op string, prompt *llm.Prompt, jsonMode bool) (*llm.Response, diagram.Usage, error) {
	provider := o.provider.Name()
	ctx, span := observability.StartOracleSpan(ctx, op, provider, o.model)
	defer span.End()

	start := time.Now()
	resp, err := o.provider.Complete(ctx, prompt, &llm.RequestOptions{
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		JSONMode:    jsonMode,
	})
	elapsed := time.Since(start)
	if err != nil {
		err = classify(ctx, err)
		observability.RecordError(span, err)
		observability.ObserveOracleCall(op, elapsed, 0, 0, err)
		o.audit.LogOracleError(ctx, op, provider, o.model, err)
		return nil, diagram.Usage{}, fmt.Errorf("oracle: %s: %w", op, err)
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	usage := diagram.Usage{
		Calls:        1,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         llm.Cost(model, resp.InputTokens, resp.OutputTokens),
	}
	if resp.Cached {
		usage.CachedCalls = 1
		usage.Cost = 0
	}

	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, elapsed)
	observability.ObserveOracleCall(op, elapsed, resp.InputTokens, resp.OutputTokens, nil)
	o.audit.LogOracleCall(ctx, op, provider, model, elapsed, resp.InputTokens, resp.OutputTokens, resp.Cached)
	o.logger.Debug("oracle call", "op", op, "model", model, "input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens, "cached", resp.Cached, "duration", elapsed)
	return resp, usage, nil
}

// classify maps a provider error onto the oracle's sentinel errors.
// Cancellation of ctx passes through untouched.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	switch {
	case llm.IsRateLimited(err):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case llm.IsTimeout(err):
		return fmt.Errorf("%w: %w", ErrOracleTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
}

func buildPrompt(req *Request) (*llm.Prompt, error) {
	if req == nil {
		return nil, fmt.Errorf("oracle: nil request")
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Instructions))

	if req.Focus != nil {
		data, err := json.Marshal(focusToWire(*req.Focus))
		if err != nil {
			return nil, fmt.Errorf("oracle: encode focus: %w", err)
		}
		b.WriteString("\n\n# Current focus\n")
		b.Write(data)
	}
	if req.Context != nil {
		data, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("oracle: encode context: %w", err)
		}
		b.WriteString("\n\n# Context\n")
		b.Write(data)
	}

	msg := llm.Message{Role: llm.RoleUser, Content: b.String()}
	if req.Image != nil {
		msg.Images = []llm.Image{{MediaType: req.Image.MediaType, Data: req.Image.Data}}
	}
	return &llm.Prompt{SystemPrompt: systemPrompt, Messages: []llm.Message{msg}}, nil
}
