// Package detector decides which diagram family an image belongs to.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/llmutil"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// ErrDetectorFailure is returned when classification fails and no fallback
// type is configured.
var ErrDetectorFailure = errors.New("diagram type detection failed")

const instructions = `Classify the diagram in this image.
Options: flowchart, sequenceDiagram, stateDiagram, classDiagram, erDiagram, unknown.
Reply with JSON: {"diagram_type": "one of the options", "reasoning": "one sentence"}`

// Detection is the outcome of a classification.
type Detection struct {
	Type      diagram.DiagramType
	Reasoning string
	Usage     diagram.Usage
	// FellBack is set when Type is the fallback rather than the oracle's answer.
	FellBack bool
}

// Detector classifies images through the oracle.
type Detector struct {
	oracle   oracle.VisionOracle
	fallback diagram.DiagramType
	logger   *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithFallback sets the type used when classification fails or is
// inconclusive. diagram.Unknown disables the fallback.
func WithFallback(t diagram.DiagramType) Option {
	return func(d *Detector) { d.fallback = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Detector that falls back to flowchart.
func New(o oracle.VisionOracle, opts ...Option) *Detector {
	d := &Detector{oracle: o, fallback: diagram.Flowchart, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify asks the oracle what kind of diagram img is.
func (d *Detector) Classify(ctx context.Context, img *diagram.Image) (Detection, error) {
	text, err := d.oracle.Classify(ctx, &oracle.Request{Image: img, Instructions: instructions})
	var det Detection
	if text != nil {
		det.Usage = text.Usage
	}
	if err != nil {
		if ctx.Err() != nil {
			return det, err
		}
		return d.fallBack(det, err)
	}

	det.Type, det.Reasoning = parse(text.Content)
	if det.Type == diagram.Unknown {
		return d.fallBack(det, fmt.Errorf("inconclusive reply %q", truncate(text.Content, 80)))
	}
	d.logger.Info("diagram type detected", "type", det.Type, "reason", det.Reasoning)
	return det, nil
}

func (d *Detector) fallBack(det Detection, cause error) (Detection, error) {
	if d.fallback == diagram.Unknown || d.fallback == "" {
		return det, fmt.Errorf("%w: %w", ErrDetectorFailure, cause)
	}
	d.logger.Warn("detection failed, using fallback type", "fallback", d.fallback, "error", cause)
	det.Type = d.fallback
	det.FellBack = true
	return det, nil
}

type reply struct {
	DiagramType string `json:"diagram_type"`
	Type        string `json:"type"`
	Reasoning   string `json:"reasoning"`
}

// parse reads the JSON reply, or failing that the first word of a plain one.
func parse(content string) (diagram.DiagramType, string) {
	if raw, err := llmutil.ExtractJSON(content); err == nil {
		var r reply
		if json.Unmarshal([]byte(raw), &r) == nil {
			name := r.DiagramType
			if name == "" {
				name = r.Type
			}
			return diagram.ParseDiagramType(name), r.Reasoning
		}
	}
	fields := strings.Fields(llmutil.StripMarkdownFences(content))
	if len(fields) == 0 {
		return diagram.Unknown, ""
	}
	return diagram.ParseDiagramType(fields[0]), ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
