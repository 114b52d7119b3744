package llm

import "strings"

// ModelInfo describes pricing and request quirks of a known model.
type ModelInfo struct {
	Name             string
	InputPerMillion  float64 // USD per million input tokens
	OutputPerMillion float64 // USD per million output tokens
	// Reasoning models reject temperature and max_tokens.
	Reasoning bool
}

// DefaultModel is used for cost estimates when a model is not in the registry.
const DefaultModel = "gpt-4o"

var modelRegistry = map[string]ModelInfo{
	"gpt-4o":            {Name: "gpt-4o", InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {Name: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":           {Name: "gpt-4.1", InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini":      {Name: "gpt-4.1-mini", InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-5":             {Name: "gpt-5", InputPerMillion: 15.00, OutputPerMillion: 60.00, Reasoning: true},
	"gpt-5.2":           {Name: "gpt-5.2", InputPerMillion: 1.75, OutputPerMillion: 14.00, Reasoning: true},
	"o3":                {Name: "o3", InputPerMillion: 2.00, OutputPerMillion: 8.00, Reasoning: true},
	"claude-sonnet-4":   {Name: "claude-sonnet-4", InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-opus-4":     {Name: "claude-opus-4", InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-3-5-haiku":  {Name: "claude-3-5-haiku", InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-3-5-sonnet": {Name: "claude-3-5-sonnet", InputPerMillion: 3.00, OutputPerMillion: 15.00},
}

// LookupModel resolves a model by exact name, then by the longest registered
// prefix so dated snapshots like "gpt-4o-2024-08-06" match "gpt-4o".
func LookupModel(name string) (ModelInfo, bool) {
	if info, ok := modelRegistry[name]; ok {
		return info, true
	}
	var best ModelInfo
	found := false
	for key, info := range modelRegistry {
		if strings.HasPrefix(name, key) && len(key) > len(best.Name) {
			best, found = info, true
		}
	}
	return best, found
}

// Cost returns the approximate USD cost of a call. Unknown models are priced as DefaultModel.
func Cost(model string, inputTokens, outputTokens int) float64 {
	info, ok := LookupModel(model)
	if !ok {
		info = modelRegistry[DefaultModel]
	}
	return float64(inputTokens)/1_000_000*info.InputPerMillion +
		float64(outputTokens)/1_000_000*info.OutputPerMillion
}
