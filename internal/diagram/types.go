package diagram

import (
	"fmt"
	"strings"
)

// DiagramType identifies a diagram family.
type DiagramType string

const (
	Flowchart DiagramType = "flowchart"
	Sequence  DiagramType = "sequenceDiagram"
	State     DiagramType = "stateDiagram"
	Class     DiagramType = "classDiagram"
	ER        DiagramType = "erDiagram"
	Unknown   DiagramType = "unknown"
)

// ParseDiagramType maps loose spellings ("sequence", "stateDiagram-v2",
// "graph") onto a DiagramType. Anything unrecognized is Unknown.
func ParseDiagramType(s string) DiagramType {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.Trim(k, "`\"'. ")
	switch {
	case k == "flowchart", k == "flow", k == "graph", strings.HasPrefix(k, "flowchart"):
		return Flowchart
	case strings.HasPrefix(k, "sequence"):
		return Sequence
	case strings.HasPrefix(k, "state"):
		return State
	case strings.HasPrefix(k, "class"):
		return Class
	case k == "er", strings.HasPrefix(k, "erdiagram"), strings.HasPrefix(k, "entity"):
		return ER
	default:
		return Unknown
	}
}

// OutputFormat selects what the Synthesizer produces.
type OutputFormat string

const (
	Mermaid         OutputFormat = "mermaid"
	NaturalLanguage OutputFormat = "natural_language"
)

// ParseOutputFormat validates a user-supplied format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mermaid":
		return Mermaid, nil
	case "natural_language", "natural-language", "text", "nl":
		return NaturalLanguage, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want mermaid or natural_language)", s)
	}
}

// Usage accumulates oracle resource consumption.
type Usage struct {
	Calls        int     `json:"calls"`
	CachedCalls  int     `json:"cached_calls,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost_usd"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Calls:        u.Calls + o.Calls,
		CachedCalls:  u.CachedCalls + o.CachedCalls,
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Cost:         u.Cost + o.Cost,
	}
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}
