// Package metrics summarizes interpretation runs for the CLI.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// RunReport collects the statistics of one interpretation.
type RunReport struct {
	Image       string        `json:"image,omitempty"`
	RunID       string        `json:"run_id"`
	DiagramType string        `json:"diagram_type"`
	Format      string        `json:"format"`
	Model       string        `json:"model,omitempty"`
	State       string        `json:"state"`
	Partial     bool          `json:"partial"`
	Degraded    bool          `json:"degraded,omitempty"`
	Failure     string        `json:"failure,omitempty"`
	Duration    time.Duration `json:"duration_ms"`
	Traversal   Traversal     `json:"traversal"`
	Oracle      Oracle        `json:"oracle"`
	Validation  string        `json:"validation,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Traversal counts what the walk produced.
type Traversal struct {
	Steps     int `json:"steps"`
	Skips     int `json:"skips"`
	Malformed int `json:"malformed"`
	Audits    int `json:"audits,omitempty"`
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
}

// Oracle counts what the walk cost.
type Oracle struct {
	Calls        int     `json:"calls"`
	CachedCalls  int     `json:"cached_calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost_usd"`
}

// FromResult builds the report of res. A nil result yields a report that
// only carries err.
func FromResult(image string, res *diagram.Result, err error) RunReport {
	r := RunReport{Image: image}
	if err != nil {
		r.Error = err.Error()
	}
	if res == nil {
		return r
	}
	r.RunID = res.RunID
	r.DiagramType = string(res.DiagramType)
	r.Format = string(res.Format)
	r.Model = res.Model
	r.State = res.State
	r.Partial = res.IsPartial
	r.Degraded = res.Degraded
	r.Failure = res.Failure
	r.Duration = res.Duration
	r.Traversal = Traversal{
		Steps:  res.Steps,
		Skips:  res.Skips,
		Audits: res.Audits,
		Nodes:  len(res.Nodes),
		Edges:  len(res.Edges),
	}
	for _, s := range res.History {
		if s.Malformed {
			r.Traversal.Malformed++
		}
	}
	r.Oracle = Oracle{
		Calls:        res.CallCount,
		CachedCalls:  res.Usage.CachedCalls,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		Cost:         res.ApproximateCost,
	}
	switch {
	case res.Validation == nil:
	case res.Validation.Valid():
		r.Validation = "valid"
	default:
		r.Validation = "invalid: " + res.Validation.Error
	}
	return r
}

// PrintSummary writes a human-readable summary to w.
func (r RunReport) PrintSummary(w io.Writer) {
	if r.Image != "" {
		fmt.Fprintf(w, "image:      %s\n", r.Image)
	}
	if r.Error != "" && r.RunID == "" {
		fmt.Fprintf(w, "error:      %s\n", r.Error)
		return
	}
	fmt.Fprintf(w, "run:        %s\n", r.RunID)
	fmt.Fprintf(w, "type:       %s (%s)\n", r.DiagramType, r.Format)
	fmt.Fprintf(w, "state:      %s%s\n", r.State, flags(r))
	if r.Failure != "" {
		fmt.Fprintf(w, "stopped:    %s\n", r.Failure)
	}
	fmt.Fprintf(w, "traversal:  %d steps, %d skips, %d malformed\n", r.Traversal.Steps, r.Traversal.Skips, r.Traversal.Malformed)
	if r.Traversal.Audits > 0 {
		fmt.Fprintf(w, "audit:      %d checks\n", r.Traversal.Audits)
	}
	fmt.Fprintf(w, "graph:      %d nodes, %d edges\n", r.Traversal.Nodes, r.Traversal.Edges)
	fmt.Fprintf(w, "oracle:     %d calls (%d cached), %d in / %d out tokens, ~$%.4f\n",
		r.Oracle.Calls, r.Oracle.CachedCalls, r.Oracle.InputTokens, r.Oracle.OutputTokens, r.Oracle.Cost)
	if r.Validation != "" {
		fmt.Fprintf(w, "mermaid:    %s\n", r.Validation)
	}
	fmt.Fprintf(w, "duration:   %s\n", r.Duration.Round(time.Millisecond))
}

func flags(r RunReport) string {
	s := ""
	if r.Partial {
		s += " [partial]"
	}
	if r.Degraded {
		s += " [unrefined]"
	}
	return s
}

// JSON returns the report as indented JSON.
func (r RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// BatchReport aggregates several runs.
type BatchReport struct {
	Runs      []RunReport `json:"runs"`
	Succeeded int         `json:"succeeded"`
	Partial   int         `json:"partial"`
	Failed    int         `json:"failed"`
	Calls     int         `json:"calls"`
	Cost      float64     `json:"cost_usd"`
}

// Add records one run.
func (b *BatchReport) Add(r RunReport) {
	b.Runs = append(b.Runs, r)
	switch {
	case r.Error != "":
		b.Failed++
	case r.Partial:
		b.Partial++
	default:
		b.Succeeded++
	}
	b.Calls += r.Oracle.Calls
	b.Cost += r.Oracle.Cost
}

// PrintSummary writes one line per run and a total.
func (b *BatchReport) PrintSummary(w io.Writer) {
	for _, r := range b.Runs {
		status := "ok"
		switch {
		case r.Error != "":
			status = "error: " + r.Error
		case r.Partial:
			status = "partial"
		}
		fmt.Fprintf(w, "%-40s %-16s %3d calls  %s\n", r.Image, r.DiagramType, r.Oracle.Calls, status)
	}
	fmt.Fprintf(w, "\n%d ok, %d partial, %d failed, %d calls, ~$%.4f\n",
		b.Succeeded, b.Partial, b.Failed, b.Calls, b.Cost)
}
