package oracle

import "context"

// Routed sends refinement and classification to their own oracles, so a
// cheaper model can read steps while a stronger one rewrites the result.
// Nil routes fall back to Default.
type Routed struct {
	Default    VisionOracle
	Refiner    VisionOracle
	Classifier VisionOracle
}

var _ VisionOracle = (*Routed)(nil)

func (r *Routed) FindInitialFocus(ctx context.Context, req *Request) (*Response, error) {
	return r.Default.FindInitialFocus(ctx, req)
}

func (r *Routed) InterpretStep(ctx context.Context, req *Request) (*Response, error) {
	return r.Default.InterpretStep(ctx, req)
}

func (r *Routed) AuditNode(ctx context.Context, req *Request) (*Response, error) {
	return r.Default.AuditNode(ctx, req)
}

func (r *Routed) Refine(ctx context.Context, req *Request) (*Text, error) {
	if r.Refiner != nil {
		return r.Refiner.Refine(ctx, req)
	}
	return r.Default.Refine(ctx, req)
}

func (r *Routed) Classify(ctx context.Context, req *Request) (*Text, error) {
	if r.Classifier != nil {
		return r.Classifier.Classify(ctx, req)
	}
	return r.Default.Classify(ctx, req)
}
