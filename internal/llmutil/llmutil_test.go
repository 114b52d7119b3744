package llmutil_test

import (
	"errors"
	"testing"

	"github.com/efebarandurmaz/graphsight/internal/llmutil"
)

func TestStripThinkingTags(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no tags", input: "graph TD", want: "graph TD"},
		{name: "single block", input: "<think>reasoning</think>\n\nactual output", want: "actual output"},
		{name: "multiline block", input: "<think>step 1\nstep 2</think>answer", want: "answer"},
		{name: "multiple blocks", input: "<think>a</think>middle<think>b</think>end", want: "middleend"},
		{name: "unclosed tag", input: "before<think>unclosed reasoning", want: "before"},
		{name: "only tags", input: "<think>all reasoning</think>   ", want: ""},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := llmutil.StripThinkingTags(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no fences", input: "graph TD\n  A --> B", want: "graph TD\n  A --> B"},
		{name: "mermaid fence", input: "```mermaid\ngraph TD\n  A --> B\n```", want: "graph TD\n  A --> B"},
		{name: "prose around fence", input: "Here you go:\n```\nflowchart LR\n```\nHope this helps.", want: "flowchart LR"},
		{name: "unterminated fence", input: "```json\n{\"a\": 1}", want: "{\"a\": 1}"},
		{name: "thinking then fence", input: "<think>hmm</think>```\nX\n```", want: "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := llmutil.StripMarkdownFences(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "bare object", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", input: "```json\n{\"a\": [1, 2]}\n```", want: `{"a": [1, 2]}`},
		{name: "prose prefix", input: `Sure! {"label": "Start"} done`, want: `{"label": "Start"}`},
		{name: "brace inside string", input: `{"label": "a } b", "n": {"x": "\"}"}}`, want: `{"label": "a } b", "n": {"x": "\"}"}}`},
		{name: "array", input: `result: [{"id": 1}]`, want: `[{"id": 1}]`},
		{name: "unbalanced", input: `{"a": 1`, wantErr: llmutil.ErrNoJSON},
		{name: "none", input: "I cannot see the image.", wantErr: llmutil.ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := llmutil.ExtractJSON(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
