package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownPipeline  = errors.New("unknown pipeline")
	ErrPipelineConflict = errors.New("pipeline already registered with different effects")
)

// CancelPolicy decides which reason wins when several effects cancel.
type CancelPolicy uint8

const (
	// CancelFirst stops the chain at the first cancel.
	CancelFirst CancelPolicy = iota
	// CancelLast runs the whole chain and reports the last cancel reason.
	CancelLast
)

func (c CancelPolicy) String() string {
	if c == CancelLast {
		return "last"
	}
	return "first"
}

// ParseCancelPolicy accepts "first", "last" or "" (first).
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch s {
	case "", "first":
		return CancelFirst, nil
	case "last":
		return CancelLast, nil
	default:
		return CancelFirst, fmt.Errorf("cancel policy %q: want first or last", s)
	}
}

// Registry maps transition kinds to pipelines. Registration happens at
// startup on the simulation goroutine.
type Registry struct {
	pipelines map[Kind]*Pipeline
	order     []Kind
	policy    CancelPolicy
}

func NewRegistry(policy CancelPolicy) *Registry {
	return &Registry{
		pipelines: make(map[Kind]*Pipeline, 8),
		policy:    policy,
	}
}

// Register installs the pipeline for kind. Chains are compared by effect
// name: registering the same names again is a no-op and keeps the installed
// effects; different names are ErrPipelineConflict.
func (r *Registry) Register(kind Kind, effects ...Effect) error {
	p := New(kind, effects...)
	if old, ok := r.pipelines[kind]; ok {
		if slices.Equal(old.Names(), p.Names()) {
			return nil
		}
		return fmt.Errorf("register %s as %s (have %s): %w", kind, p, old, ErrPipelineConflict)
	}
	r.pipelines[kind] = p
	r.order = append(r.order, kind)
	return nil
}

// Get returns the pipeline for kind.
func (r *Registry) Get(kind Kind) (*Pipeline, error) {
	p, ok := r.pipelines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, kind)
	}
	return p, nil
}

// Kinds returns registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	return slices.Clone(r.order)
}

func (r *Registry) Policy() CancelPolicy { return r.policy }
