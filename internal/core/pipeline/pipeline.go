// Package pipeline runs one proposed world transition through an ordered
// chain of effects and commits or rolls it back through a transaction log.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/txlog"
	"github.com/l1jgo/phasetrack/internal/world"
)

// Kind names a category of transition; each kind has one registered pipeline.
type Kind string

const (
	SetBlock     Kind = "set_block"
	BreakBlock   Kind = "break_block"
	Explode      Kind = "explode"
	ContainerPut Kind = "container_put"
	Generate     Kind = "generate"
)

// Flags tune built-in effects for a single proposal.
type Flags uint8

const (
	SkipNotify Flags = 1 << iota // no neighbor notifications
	SkipDrops                    // replaced blocks drop nothing
)

func (f Flags) Has(x Flags) bool { return f&x != 0 }

// Transition is the proposal an effect chain works on. Effects may rewrite To;
// Target and From are fixed once the pipeline starts.
type Transition struct {
	Kind   Kind
	Target world.Target
	From   world.Value
	To     world.Value
	Flags  Flags
}

// Propose builds a proposal for target.
func Propose(target world.Target, to world.Value) Transition {
	return Transition{Target: target, To: to}
}

// Result is what one effect decided.
type Result struct {
	cancelled bool
	reason    string
	emitted   []capture.SideEffect
}

// Continue lets the chain proceed, recording emitted side effects against the
// transition.
func Continue(emitted ...capture.SideEffect) Result {
	return Result{emitted: emitted}
}

// Cancel aborts the transition.
func Cancel(reason string) Result {
	return Result{cancelled: true, reason: reason}
}

func (r Result) Cancelled() bool { return r.cancelled }
func (r Result) Reason() string  { return r.reason }

func (r Result) Emitted() []capture.SideEffect { return r.emitted }

// Effect is one step of a pipeline. Name identifies the effect's behavior:
// registries treat two effects with the same name as interchangeable, so a
// name must change whenever behavior does (arguments included, as in
// "explode:3").
type Effect interface {
	Name() string
	Apply(ec *EffectContext, t *Transition) Result
}

type funcEffect struct {
	name string
	fn   func(*EffectContext, *Transition) Result
}

func (f funcEffect) Name() string { return f.name }
func (f funcEffect) Apply(ec *EffectContext, t *Transition) Result {
	return f.fn(ec, t)
}

// Func adapts a function into a named Effect.
func Func(name string, fn func(ec *EffectContext, t *Transition) Result) Effect {
	return funcEffect{name: name, fn: fn}
}

// Runner runs nested transitions from inside an effect.
type Runner interface {
	Run(kind Kind, proposal Transition) (Outcome, error)
}

// EffectContext is what an effect sees of the running phase.
type EffectContext struct {
	Phase    phase.Phase
	World    world.View
	Nested   Runner
	Owner    any
	Notifier any

	cause func() cause.Cause
}

// NewEffectContext binds an effect context; causeFn is called every time an
// effect or the pipeline asks for the current cause.
func NewEffectContext(p phase.Phase, view world.View, nested Runner, causeFn func() cause.Cause) *EffectContext {
	return &EffectContext{Phase: p, World: view, Nested: nested, cause: causeFn}
}

// Cause returns the cause active right now.
func (ec *EffectContext) Cause() cause.Cause {
	if ec.cause == nil {
		return cause.Cause{}
	}
	return ec.cause()
}

// Status is the outcome category of a pipeline run.
type Status uint8

const (
	Committed Status = iota + 1
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Outcome reports how a pipeline run ended. Cancellation is an outcome, not
// an error.
type Outcome struct {
	Status  Status
	Kind    Kind
	Target  world.Target
	Prior   world.Value
	Value   world.Value // committed value, or the restored prior on cancel
	Emitted []capture.SideEffect
	Effects []string
	Reason  string
	NoOp    bool
	Handle  txlog.Handle
}

func (o Outcome) Committed() bool { return o.Status == Committed }
func (o Outcome) Cancelled() bool { return o.Status == Cancelled }

func (o Outcome) String() string {
	if o.Status == Cancelled {
		return fmt.Sprintf("%s %s cancelled: %s", o.Kind, o.Target, o.Reason)
	}
	return fmt.Sprintf("%s %s committed %s -> %s (%d side effects)", o.Kind, o.Target, o.Prior, o.Value, len(o.Emitted))
}

// Pipeline is an immutable ordered list of effects for one kind.
type Pipeline struct {
	kind    Kind
	effects []Effect
}

func New(kind Kind, effects ...Effect) *Pipeline {
	e := make([]Effect, len(effects))
	copy(e, effects)
	return &Pipeline{kind: kind, effects: e}
}

func (p *Pipeline) Kind() Kind { return p.kind }

// Names returns the effect names in run order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.effects))
	for i, e := range p.effects {
		out[i] = e.Name()
	}
	return out
}

func (p *Pipeline) String() string {
	return string(p.kind) + "[" + strings.Join(p.Names(), ",") + "]"
}

// Execute runs proposal through the chain, logging into log. Emitted side
// effects are stamped with the emitting effect, the cause active at emission,
// the context attribution and the log entry they belong to.
func (p *Pipeline) Execute(ec *EffectContext, log *txlog.Log, proposal Transition, policy CancelPolicy) (Outcome, error) {
	t := proposal
	t.Kind = p.kind
	target := t.Target
	prior := ec.World.Get(target)
	t.From = prior

	h, err := log.Begin(string(p.kind), target, prior, t.To, ec.Cause())
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", p.kind, err)
	}

	var (
		cancelled bool
		reason    string
		ran       []string
	)
	for _, e := range p.effects {
		r := e.Apply(ec, &t)
		t.Target, t.From, t.Kind = target, prior, p.kind
		ran = append(ran, e.Name())
		if r.cancelled {
			cancelled = true
			reason = r.reason
			if reason == "" {
				reason = e.Name()
			}
			if policy == CancelFirst {
				break
			}
			continue
		}
		if cancelled {
			continue
		}
		emitted := make([]capture.SideEffect, len(r.emitted))
		for i, se := range r.emitted {
			se.Emitter = e.Name()
			se.Cause = ec.Cause()
			se.Owner = ec.Owner
			se.Notifier = ec.Notifier
			se.Tx = h.Seq()
			emitted[i] = se
		}
		if err := log.RecordEffect(h, e.Name(), emitted); err != nil {
			return Outcome{}, fmt.Errorf("pipeline %s: %w", p.kind, err)
		}
	}

	out := Outcome{Kind: p.kind, Target: target, Prior: prior, Effects: ran, Handle: h}
	if cancelled {
		if err := log.Cancel(h, reason); err != nil {
			return Outcome{}, fmt.Errorf("pipeline %s: %w", p.kind, err)
		}
		out.Status = Cancelled
		out.Reason = reason
		out.Value = prior
		return out, nil
	}
	entry, err := log.Commit(h, t.To)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", p.kind, err)
	}
	out.Status = Committed
	out.Value = entry.Final
	out.Emitted = entry.Emitted
	out.NoOp = entry.Status == txlog.NoOp
	return out, nil
}
