package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/pipeline"
)

// ErrTypeBadImage marks activity failures that retrying cannot fix.
const ErrTypeBadImage = "BadImage"

// Interpreter runs one interpretation. *pipeline.Pipeline satisfies it.
type Interpreter interface {
	Run(ctx context.Context, req pipeline.Request) (*diagram.Result, error)
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Interpreter Interpreter
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// InterpretImageActivity loads one image and interprets it.
func InterpretImageActivity(ctx context.Context, input ImageInput) (ImageOutcome, error) {
	if deps == nil || deps.Interpreter == nil {
		return ImageOutcome{}, errors.New("interpret activity: dependencies not set")
	}

	img, err := diagram.LoadImage(input.Path)
	if err != nil {
		return ImageOutcome{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("load %s", input.Path), ErrTypeBadImage, err)
	}
	format, err := diagram.ParseOutputFormat(input.Format)
	if err != nil {
		return ImageOutcome{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeBadImage, err)
	}

	req := pipeline.Request{Image: img, Format: format}
	if input.Type != "" {
		req.Type = diagram.ParseDiagramType(input.Type)
	}

	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, input.Path)
	}
	res, err := deps.Interpreter.Run(ctx, req)
	if err != nil {
		return ImageOutcome{}, fmt.Errorf("interpret %s: %w", input.Path, err)
	}
	return outcomeOf(input.Path, res), nil
}

func outcomeOf(path string, res *diagram.Result) ImageOutcome {
	return ImageOutcome{
		Image:       path,
		RunID:       res.RunID,
		DiagramType: string(res.DiagramType),
		Content:     res.Content,
		Partial:     res.IsPartial,
		Degraded:    res.Degraded,
		Steps:       res.Steps,
		Calls:       res.CallCount,
		Cost:        res.ApproximateCost,
	}
}
