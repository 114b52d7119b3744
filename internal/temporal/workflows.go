package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultConcurrency = 4
	maxAttempts        = 3
)

// InterpretInput holds the workflow parameters.
type InterpretInput struct {
	Images []string
	Format string
	// Type forces a diagram type; empty means detect per image.
	Type        string
	Concurrency int
}

// ImageInput is one activity's share of the batch.
type ImageInput struct {
	Path   string
	Format string
	Type   string
}

// ImageOutcome is the serializable result of one image.
type ImageOutcome struct {
	Image       string
	RunID       string
	DiagramType string
	Content     string
	Partial     bool
	Degraded    bool
	Steps       int
	Calls       int
	Cost        float64
	Error       string
}

// InterpretOutput holds the workflow result.
type InterpretOutput struct {
	Results   []ImageOutcome
	Succeeded int
	Failed    int
	Calls     int
	Cost      float64
}

// InterpretWorkflow interprets every image with one activity each, running
// at most Concurrency activities at a time. A failed image is recorded in
// its outcome and does not fail the workflow.
func InterpretWorkflow(ctx workflow.Context, input InterpretInput) (*InterpretOutput, error) {
	if len(input.Images) == 0 {
		return nil, fmt.Errorf("interpret workflow: no images")
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    maxAttempts,
			NonRetryableErrorTypes: []string{
				ErrTypeBadImage,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	window := input.Concurrency
	if window <= 0 {
		window = defaultConcurrency
	}

	out := &InterpretOutput{Results: make([]ImageOutcome, len(input.Images))}
	for start := 0; start < len(input.Images); start += window {
		end := min(start+window, len(input.Images))
		futures := make([]workflow.Future, 0, end-start)
		for _, path := range input.Images[start:end] {
			futures = append(futures, workflow.ExecuteActivity(ctx, InterpretImageActivity, ImageInput{
				Path:   path,
				Format: input.Format,
				Type:   input.Type,
			}))
		}
		for i, f := range futures {
			idx := start + i
			var outcome ImageOutcome
			if err := f.Get(ctx, &outcome); err != nil {
				logger.Warn("image failed", "image", input.Images[idx], "error", err)
				outcome = ImageOutcome{Image: input.Images[idx], Error: err.Error()}
			}
			out.Results[idx] = outcome
		}
	}

	for _, r := range out.Results {
		if r.Error != "" {
			out.Failed++
		} else {
			out.Succeeded++
		}
		out.Calls += r.Calls
		out.Cost += r.Cost
	}
	logger.Info("batch finished", "succeeded", out.Succeeded, "failed", out.Failed, "cost", out.Cost)
	return out, nil
}
