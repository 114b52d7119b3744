// Package oracletest provides a scripted VisionOracle for tests.
package oracletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// StepFunc answers an InterpretStep request.
type StepFunc func(req *oracle.Request) (*oracle.Response, error)

// Scripted is a VisionOracle whose replies are supplied by the test.
// Every successful call is billed PerCall usage unless the reply sets its own.
type Scripted struct {
	Initial    []diagram.Focus
	InitialErr error
	Step       StepFunc
	// Audit answers AuditNode; nil gives every audit an empty verdict.
	Audit        StepFunc
	RefineFunc   func(req *oracle.Request) (*oracle.Text, error)
	ClassifyFunc func(req *oracle.Request) (*oracle.Text, error)
	PerCall      diagram.Usage

	mu       sync.Mutex
	calls    map[string]int
	requests []*oracle.Request
	audits   []*oracle.Request
}

var _ oracle.VisionOracle = (*Scripted)(nil)

// ByLabel answers steps from a table keyed by focus label. Unknown labels
// get an empty reply.
func ByLabel(replies map[string]*oracle.Response) StepFunc {
	return func(req *oracle.Request) (*oracle.Response, error) {
		r, ok := replies[req.Focus.Label]
		if !ok {
			return &oracle.Response{}, nil
		}
		cp := *r
		return &cp, nil
	}
}

func (s *Scripted) record(op string, req *oracle.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
	switch op {
	case oracle.OpInterpretStep:
		s.requests = append(s.requests, req)
	case oracle.OpAuditNode:
		s.audits = append(s.audits, req)
	}
}

// Calls returns how many times op was invoked.
func (s *Scripted) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// StepRequests returns every InterpretStep request in call order.
func (s *Scripted) StepRequests() []*oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*oracle.Request(nil), s.requests...)
}

// AuditRequests returns every AuditNode request in call order.
func (s *Scripted) AuditRequests() []*oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*oracle.Request(nil), s.audits...)
}

func (s *Scripted) bill(u diagram.Usage) diagram.Usage {
	if u == (diagram.Usage{}) {
		return s.PerCall
	}
	return u
}

func (s *Scripted) FindInitialFocus(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	s.record(oracle.OpInitialFocus, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.InitialErr != nil {
		return nil, s.InitialErr
	}
	return &oracle.Response{Next: append([]diagram.Focus(nil), s.Initial...), Usage: s.PerCall}, nil
}

func (s *Scripted) InterpretStep(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	s.record(oracle.OpInterpretStep, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Step == nil {
		return nil, fmt.Errorf("oracletest: no step script")
	}
	resp, err := s.Step(req)
	if resp != nil {
		resp.Usage = s.bill(resp.Usage)
	}
	return resp, err
}

func (s *Scripted) AuditNode(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	s.record(oracle.OpAuditNode, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Audit == nil {
		return &oracle.Response{Usage: s.PerCall}, nil
	}
	resp, err := s.Audit(req)
	if resp != nil {
		resp.Usage = s.bill(resp.Usage)
	}
	return resp, err
}

func (s *Scripted) Refine(ctx context.Context, req *oracle.Request) (*oracle.Text, error) {
	s.record(oracle.OpRefine, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.RefineFunc == nil {
		return nil, fmt.Errorf("%w: no refine script", oracle.ErrOracleUnavailable)
	}
	t, err := s.RefineFunc(req)
	if t != nil {
		t.Usage = s.bill(t.Usage)
	}
	return t, err
}

func (s *Scripted) Classify(ctx context.Context, req *oracle.Request) (*oracle.Text, error) {
	s.record(oracle.OpClassify, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.ClassifyFunc == nil {
		return nil, fmt.Errorf("%w: no classify script", oracle.ErrOracleUnavailable)
	}
	t, err := s.ClassifyFunc(req)
	if t != nil {
		t.Usage = s.bill(t.Usage)
	}
	return t, err
}
