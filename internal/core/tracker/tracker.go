// Package tracker coordinates the cause stack, the phase stack and the
// transition pipelines of one simulation goroutine.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/ecs"
	"github.com/l1jgo/phasetrack/internal/core/event"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/core/txlog"
	"github.com/l1jgo/phasetrack/internal/world"
)

// World is the model pipelines commit into and spawns materialize into.
type World interface {
	world.Model
	SpawnEntity(spec world.EntitySpec) ecs.EntityID
}

// Dispatcher is consulted once per materialized side effect.
type Dispatcher interface {
	DispatchSideEffect(ev event.SideEffect) event.Verdict
}

// Journal receives committed transitions when their context completes.
type Journal interface {
	Journal(ev event.TransitionCommitted)
}

// NeighborFunc handles an accepted neighbor notification.
type NeighborFunc func(target, source world.Pos)

type corruptionKey struct {
	op         string
	top, found phase.Phase
}

// unwindScope marks a materialization in progress: the cause visible inside
// it is the emission cause plus whatever was pushed since.
type unwindScope struct {
	ctx   *phase.Context
	frame *cause.Frame
}

// Tracker is the single-owner phase tracker of one world. All methods must be
// called from the owning goroutine.
type Tracker struct {
	cfg       config.TrackerConfig
	world     World
	pipelines *pipeline.Registry
	causes    *cause.Stack
	stack     *phase.Stack

	dispatcher Dispatcher
	journal    Journal
	neighbor   NeighborFunc

	owner     uint64
	unwinding []unwindScope
	runs      []*phase.Context // contexts with a pipeline run in progress
	warned    map[phase.Phase]bool
	reported  map[corruptionKey]bool
	now       func() time.Time

	log *zap.Logger
}

func New(cfg config.TrackerConfig, w World, pipelines *pipeline.Registry, log *zap.Logger) *Tracker {
	if cfg.MaxPhaseDepth < 2 {
		cfg.MaxPhaseDepth = 64
	}
	t := &Tracker{
		cfg:       cfg,
		world:     w,
		pipelines: pipelines,
		causes:    cause.NewStack(cfg.MaxCauseDepth),
		stack:     phase.NewStack(phase.NewContext(phase.Idle, cause.Cause{}, w)),
		owner:     goroutineID(),
		warned:    make(map[phase.Phase]bool),
		reported:  make(map[corruptionKey]bool),
		now:       time.Now,
		log:       log,
	}
	phaseDepth.Set(float64(t.stack.Depth()))
	return t
}

func (t *Tracker) SetDispatcher(d Dispatcher) { t.dispatcher = d }

func (t *Tracker) SetJournal(j Journal) { t.journal = j }

func (t *Tracker) SetNeighborFunc(f NeighborFunc) { t.neighbor = f }

// BindOwner makes the calling goroutine the tracker's owner.
func (t *Tracker) BindOwner() { t.owner = goroutineID() }

func (t *Tracker) checkOwner(op string) error {
	if id := goroutineID(); id != t.owner {
		t.log.Error("phase tracker accessed asynchronously",
			zap.String("op", op),
			zap.Uint64("goroutine", id),
			zap.Uint64("owner", t.owner),
		)
		return fmt.Errorf("%s: %w", op, ErrAsyncAccess)
	}
	return nil
}

// Causes exposes the cause stack for scoped frames.
func (t *Tracker) Causes() *cause.Stack { return t.causes }

// Pipelines returns the pipeline registry.
func (t *Tracker) Pipelines() *pipeline.Registry { return t.pipelines }

// RegisterPipeline installs the effect chain for kind. Re-registering the same
// chain is accepted; a different chain fails with pipeline.ErrPipelineConflict.
func (t *Tracker) RegisterPipeline(kind pipeline.Kind, effects ...pipeline.Effect) error {
	return t.pipelines.Register(kind, effects...)
}

// Current returns the currently executing context.
func (t *Tracker) Current() *phase.Context { return t.stack.Peek() }

// Depth returns the phase stack depth including the root.
func (t *Tracker) Depth() int { return t.stack.Depth() }

// CurrentCause is the cause stack's participants followed by the source
// causes of active contexts, top first. Inside a materialization only the
// contexts from the unwind context up are included.
func (t *Tracker) CurrentCause() cause.Cause {
	var (
		layers []cause.Cause
		stop   *phase.Context
	)
	if n := len(t.unwinding); n > 0 {
		u := t.unwinding[n-1]
		layers = append(layers, t.causes.Since(u.frame))
		stop = u.ctx
	} else {
		layers = append(layers, t.causes.CurrentCause())
	}
	done := false
	t.stack.Each(func(c *phase.Context) {
		if done {
			return
		}
		layers = append(layers, c.Source())
		done = c == stop
	})
	return cause.Compose(layers...)
}

// NewContext builds an unentered context bound to this tracker's world.
func (t *Tracker) NewContext(p phase.Phase, source cause.Cause) *phase.Context {
	return phase.NewContext(p, source, t.world)
}

// EnterPhase builds and enters a context for p.
func (t *Tracker) EnterPhase(p phase.Phase, source cause.Cause) (*phase.Context, error) {
	ctx := t.NewContext(p, source)
	if err := t.Enter(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Enter pushes ctx. Entering an active or spent context, or a phase the
// tracker reserves for itself, is corruption and leaves the stack unchanged.
func (t *Tracker) Enter(ctx *phase.Context) error {
	if err := t.checkOwner("enter"); err != nil {
		return err
	}
	if !ctx.Phase().Behavior().Enterable {
		return t.corrupt("enter", ctx, fmt.Errorf("phase %s is not enterable", ctx.Phase()))
	}
	return t.push(ctx)
}

func (t *Tracker) push(ctx *phase.Context) error {
	if depth := t.stack.Depth(); depth >= t.cfg.MaxPhaseDepth {
		dump := t.DumpStack()
		t.log.Error("runaway phase",
			zap.Stringer("phase", ctx.Phase()),
			zap.Int("depth", depth),
			zap.String("dump", dump),
		)
		return fmt.Errorf("enter %s at depth %d: %w", ctx.Phase(), depth, ErrRunawayPhase)
	}
	if err := t.stack.Push(ctx); err != nil {
		return t.corrupt("enter", ctx, err)
	}
	if t.cfg.Verbose && t.cfg.RunawayWarnDepth > 0 && t.stack.Depth() > t.cfg.RunawayWarnDepth && !t.warned[ctx.Phase()] {
		t.warned[ctx.Phase()] = true
		t.log.Warn("deep phase nesting",
			zap.Stringer("phase", ctx.Phase()),
			zap.Int("depth", t.stack.Depth()),
			zap.String("dump", t.DumpStack()),
		)
	}
	phasesEntered.WithLabelValues(ctx.Phase().String()).Inc()
	phaseDepth.Set(float64(t.stack.Depth()))
	return nil
}

// Complete finishes ctx: captures are materialized, committed transitions are
// journaled and the context is popped. Completing anything but the top
// context is corruption; the offending context is discarded and the true top
// stays active.
func (t *Tracker) Complete(ctx *phase.Context) error {
	if err := t.checkOwner("complete"); err != nil {
		return err
	}
	switch {
	case ctx == t.stack.Root():
		return t.corrupt("complete", ctx, errors.New("root context cannot complete"))
	case ctx.Spent():
		return t.corrupt("complete", ctx, phase.ErrContextSpent)
	case !t.stack.Contains(ctx):
		return t.corrupt("complete", ctx, phase.ErrNotOnStack)
	case t.stack.Peek() != ctx:
		cerr := t.corrupt("complete", ctx, phase.ErrNotOnTop)
		if err := t.stack.Discard(ctx); err != nil {
			t.log.Error("discard corrupted context", zap.Stringer("context", ctx), zap.Error(err))
		}
		phaseDepth.Set(float64(t.stack.Depth()))
		return cerr
	}
	t.finish(ctx)
	return nil
}

// finish drains, journals and pops the top context.
func (t *Tracker) finish(ctx *phase.Context) {
	t.drain(ctx)
	if n := ctx.PendingCaptures(); n > 0 {
		t.log.Warn("unprocessed captures at phase completion",
			zap.Stringer("phase", ctx.Phase()),
			zap.Int("captures", n),
		)
	}
	t.journalCommitted(ctx)
	if err := t.stack.Pop(ctx); err != nil {
		t.log.Error("pop phase context", zap.Stringer("context", ctx), zap.Error(err))
	}
	phaseDepth.Set(float64(t.stack.Depth()))
}

func (t *Tracker) journalCommitted(ctx *phase.Context) {
	if t.journal == nil {
		return
	}
	at := t.now()
	for _, e := range ctx.Log().Committed() {
		t.journal.Journal(event.TransitionCommitted{
			Context: ctx.ID(),
			Phase:   ctx.Phase(),
			Seq:     e.Seq,
			Kind:    e.Kind,
			Target:  e.Target,
			Prior:   e.Prior,
			Final:   e.Final,
			NoOp:    e.Status == txlog.NoOp,
			Effects: e.Effects,
			Cause:   e.Cause,
			At:      at,
		})
	}
}

// Do runs fn inside a fresh context for p and completes it on every exit
// path. A cause frame is held for the duration of fn; frames fn leaves open
// are unwound and reported. Panics are re-raised after completion.
func (t *Tracker) Do(p phase.Phase, source cause.Cause, fn func(ctx *phase.Context) error) (err error) {
	ctx, err := t.EnterPhase(p, source)
	if err != nil {
		return err
	}
	frame := t.causes.PushFrame()
	defer func() {
		r := recover()
		if ferr := frame.Release(); ferr != nil {
			t.log.Error("cause stack violation",
				zap.Stringer("phase", p),
				zap.Error(ferr),
			)
			err = errors.Join(err, ferr)
		}
		if cerr := t.Complete(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if r != nil {
			panic(r)
		}
	}()
	return fn(ctx)
}

// Run executes the pipeline for kind on the current context. Committed side
// effects are queued on the context, or materialized right away in phases
// that do not defer them.
func (t *Tracker) Run(kind pipeline.Kind, proposal pipeline.Transition) (pipeline.Outcome, error) {
	if err := t.checkOwner("run"); err != nil {
		return pipeline.Outcome{}, err
	}
	p, err := t.pipelines.Get(kind)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	ctx := t.stack.Peek()
	nested := t.inFlight(ctx)
	t.runs = append(t.runs, ctx)
	defer func() { t.runs = t.runs[:len(t.runs)-1] }()
	ec := pipeline.NewEffectContext(ctx.Phase(), t.world, t, t.CurrentCause)
	ec.Owner, ec.Notifier = ctx.Owner(), ctx.Notifier()

	timer := prometheusTimer(string(kind))
	out, err := p.Execute(ec, ctx.Log(), proposal, t.pipelines.Policy())
	timer.ObserveDuration()
	if err != nil {
		return out, err
	}
	pipelineOutcomes.WithLabelValues(string(kind), out.Status.String()).Inc()
	if t.cfg.Verbose {
		t.log.Debug("pipeline",
			zap.Stringer("phase", ctx.Phase()),
			zap.Stringer("outcome", out),
		)
	}
	if !out.Committed() {
		return out, nil
	}
	ctx.Capture(out.Emitted...)
	if nested {
		// settled with the enclosing transition
		return out, nil
	}
	if !ctx.Phase().Behavior().DeferSideEffects {
		t.drain(ctx)
	}
	if ctx == t.stack.Root() {
		t.journalCommitted(ctx)
		ctx.Rotate(t.world)
	}
	return out, nil
}

// inFlight reports whether a pipeline is already running on ctx, which makes
// the next run a nested transition of that one.
func (t *Tracker) inFlight(ctx *phase.Context) bool {
	for _, c := range t.runs {
		if c == ctx {
			return true
		}
	}
	return false
}

// Revert rolls back the transition behind h in whichever live context owns it.
func (t *Tracker) Revert(h txlog.Handle) error {
	if err := t.checkOwner("revert"); err != nil {
		return err
	}
	var owner *phase.Context
	t.stack.Each(func(c *phase.Context) {
		if owner == nil && c.Log().Owns(h) {
			owner = c
		}
	})
	if owner == nil {
		return fmt.Errorf("revert tx %d: %w", h.Seq(), txlog.ErrInvalidHandle)
	}
	return owner.Log().Revert(h)
}

// corrupt logs a diagnostic dump for a discipline violation and returns the
// error describing it. Repeated reports of the same violation are logged at
// debug level unless verbose.
func (t *Tracker) corrupt(op string, ctx *phase.Context, reason error) *CorruptionError {
	e := &CorruptionError{
		Op:    op,
		Top:   t.stack.Peek().Phase(),
		Found: ctx.Phase(),
		Dump:  t.DumpStack(),
		Err:   reason,
	}
	corruptions.WithLabelValues(op).Inc()
	key := corruptionKey{op: op, top: e.Top, found: e.Found}
	fields := []zap.Field{
		zap.String("op", op),
		zap.Stringer("top", e.Top),
		zap.Stringer("found", e.Found),
		zap.Stringer("context", ctx),
		zap.Error(reason),
		zap.String("dump", e.Dump),
	}
	if t.reported[key] && !t.cfg.Verbose {
		t.log.Debug("phase corruption (repeat)", fields...)
		return e
	}
	t.reported[key] = true
	t.log.Error("phase corruption", fields...)
	return e
}
