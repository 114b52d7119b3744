// Package oracle defines the boundary to the visual-reasoning service that
// reads the diagram, and an implementation backed by an llm.Provider.
package oracle

import (
	"context"
	"errors"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// Operation names, used for spans, metrics and audit events.
const (
	OpInitialFocus  = "initial_focus"
	OpInterpretStep = "interpret_step"
	OpRefine        = "refine"
	OpClassify      = "classify"
	OpAuditNode     = "audit_node"
)

var (
	// ErrOracleTimeout is returned when the oracle kept timing out after retries.
	ErrOracleTimeout = errors.New("oracle timed out")
	// ErrRateLimited is returned when the oracle kept rejecting calls after retries.
	ErrRateLimited = errors.New("oracle rate limited")
	// ErrMalformedResponse is returned when a reply could not be decoded even
	// after a clarifying re-prompt.
	ErrMalformedResponse = errors.New("oracle response malformed")
	// ErrOracleUnavailable covers every other oracle failure.
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// Request is one question put to the oracle.
type Request struct {
	Image *diagram.Image
	// Focus is the region under interpretation, nil for whole-image calls.
	Focus        *diagram.Focus
	Instructions string
	// Context is JSON-encoded into the request when non-nil.
	Context any
}

// Response is a structured oracle reply.
type Response struct {
	Nodes     []diagram.NodeMention
	Edges     []diagram.EdgeMention
	Reasoning string
	// Next holds candidate foci; for FindInitialFocus, the starting points.
	Next     []diagram.Focus
	Terminal bool
	// Confirmed is the verdict of an AuditNode call, nil when the reply
	// gave none.
	Confirmed *Confirmation
	Usage     diagram.Usage
}

// Confirmation lists the neighbors an audit saw connected to its node.
// A nil Incoming means the oracle did not check incoming lines.
type Confirmation struct {
	Incoming []string
	Outgoing []string
}

// Text is a free-form oracle reply.
type Text struct {
	Content string
	Usage   diagram.Usage
}

// VisionOracle answers questions about a diagram image.
//
// Implementations return ErrMalformedResponse together with a non-nil
// Response carrying the spent Usage when a reply cannot be decoded.
type VisionOracle interface {
	FindInitialFocus(ctx context.Context, req *Request) (*Response, error)
	InterpretStep(ctx context.Context, req *Request) (*Response, error)
	// AuditNode re-checks the lines of one already explored node.
	AuditNode(ctx context.Context, req *Request) (*Response, error)
	Refine(ctx context.Context, req *Request) (*Text, error)
	Classify(ctx context.Context, req *Request) (*Text, error)
}

// IsFatal reports whether err should end a traversal. Malformed replies
// are absorbed as empty steps; everything else is fatal.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrMalformedResponse)
}
