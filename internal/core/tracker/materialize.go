package tracker

import (
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/event"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
)

// drain materializes ctx's captures in queue order. Each side effect runs in
// its own Unwind context whose source is the emission cause, so anything the
// materialization triggers is captured there and drained before the next
// side effect.
func (t *Tracker) drain(ctx *phase.Context) {
	for ctx.PendingCaptures() > 0 {
		for _, se := range ctx.DrainCaptures() {
			t.materialize(ctx, se)
		}
	}
}

func (t *Tracker) materialize(from *phase.Context, se capture.SideEffect) {
	unwind := t.NewContext(phase.Unwind, se.Cause)
	unwind.SetOwner(se.Owner)
	unwind.SetNotifier(se.Notifier)
	if err := t.push(unwind); err != nil {
		t.log.Error("side effect dropped",
			zap.Stringer("side_effect", se),
			zap.Stringer("emitted_in", from),
			zap.Error(err),
		)
		sideEffects.WithLabelValues(se.Kind.String(), "dropped").Inc()
		return
	}
	frame := t.causes.PushFrame()
	t.unwinding = append(t.unwinding, unwindScope{ctx: unwind, frame: frame})
	defer func() {
		t.unwinding = t.unwinding[:len(t.unwinding)-1]
		if err := frame.Release(); err != nil {
			t.log.Error("cause stack violation during materialization", zap.Error(err))
		}
		t.finish(unwind)
	}()

	verdict := event.Accept
	if t.dispatcher != nil {
		verdict = t.dispatcher.DispatchSideEffect(event.SideEffect{
			SideEffect: se,
			Phase:      from.Phase(),
			Context:    from.ID(),
		})
	}
	sideEffects.WithLabelValues(se.Kind.String(), verdict.String()).Inc()
	if verdict == event.Veto {
		t.log.Debug("side effect vetoed", zap.Stringer("side_effect", se))
		return
	}

	switch se.Kind {
	case capture.SpawnEntity:
		id := t.world.SpawnEntity(se.Entity)
		if t.cfg.Verbose {
			t.log.Debug("entity spawned", zap.Stringer("entity", id), zap.String("type", se.Entity.Type))
		}
	case capture.ChangeBlock:
		out, err := t.Run(pipeline.Kind(se.Via), pipeline.Propose(se.Target, se.Value))
		if err != nil {
			t.log.Error("captured change failed",
				zap.Stringer("side_effect", se),
				zap.Error(err),
			)
			return
		}
		if out.Cancelled() && t.cfg.Verbose {
			t.log.Debug("captured change cancelled", zap.Stringer("side_effect", se), zap.String("reason", out.Reason))
		}
	case capture.NotifyNeighbor:
		if t.neighbor != nil {
			t.neighbor(se.Target.Pos, se.Source)
		}
	}
}
