package tracker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/event"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/core/txlog"
	"github.com/l1jgo/phasetrack/internal/world"
)

var (
	origin = world.Block(world.Pos{})
	valueA = world.Value{Type: "a"}
	valueB = world.Value{Type: "b"}
)

type recorder struct {
	events []event.SideEffect
	veto   func(event.SideEffect) bool
}

func (r *recorder) DispatchSideEffect(ev event.SideEffect) event.Verdict {
	r.events = append(r.events, ev)
	if r.veto != nil && r.veto(ev) {
		return event.Veto
	}
	return event.Accept
}

type journal struct{ entries []event.TransitionCommitted }

func (j *journal) Journal(ev event.TransitionCommitted) { j.entries = append(j.entries, ev) }

type harness struct {
	tr    *Tracker
	world *world.State
	reg   *pipeline.Registry
	rec   *recorder
	jr    *journal
	logs  *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg config.TrackerConfig) *harness {
	t.Helper()
	if cfg.MaxPhaseDepth == 0 {
		cfg.MaxPhaseDepth = 32
	}
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		world: world.NewState(0),
		reg:   pipeline.NewRegistry(pipeline.CancelFirst),
		rec:   &recorder{},
		jr:    &journal{},
		logs:  logs,
	}
	h.tr = New(cfg, h.world, h.reg, zap.New(core))
	h.tr.SetDispatcher(h.rec)
	h.tr.SetJournal(h.jr)
	return h
}

func (h *harness) register(t *testing.T, kind pipeline.Kind, effects ...pipeline.Effect) {
	t.Helper()
	require.NoError(t, h.reg.Register(kind, effects...))
}

func spawnEffect(typ string) pipeline.Effect {
	return pipeline.Func("spawn_"+typ, func(_ *pipeline.EffectContext, tr *pipeline.Transition) pipeline.Result {
		return pipeline.Continue(capture.Spawn(world.EntitySpec{Type: typ, Pos: tr.Target.Pos}))
	})
}

func TestCommitInsideTick(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.Noop())
	h.world.Set(origin, valueA)

	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		out, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		assert.True(t, out.Committed())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, valueB, h.world.Get(origin))
	assert.Equal(t, 1, h.tr.Depth())
	require.Len(t, h.jr.entries, 1)
	assert.Equal(t, valueA, h.jr.entries[0].Prior)
	assert.Equal(t, phase.TickSimulation, h.jr.entries[0].Phase)
}

func TestCancelInsideTick(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.AlwaysCancel("blocked"))
	h.world.Set(origin, valueA)

	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		out, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		assert.True(t, out.Cancelled())
		assert.Equal(t, "blocked", out.Reason)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, valueA, h.world.Get(origin))
	assert.Empty(t, h.jr.entries)
}

func TestSpawnCarriesEmissionCause(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, spawnEffect("item"))

	var emission cause.Cause
	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		f := h.tr.Causes().PushFrame()
		require.NoError(t, f.Push("player"))
		emission = h.tr.CurrentCause()
		_, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		require.NoError(t, f.Release())

		later := h.tr.Causes().PushFrame()
		require.NoError(t, later.Push("someone else"))
		return later.Release()
	})
	require.NoError(t, err)

	require.Len(t, h.rec.events, 1)
	ev := h.rec.events[0]
	assert.Equal(t, capture.SpawnEntity, ev.Kind)
	assert.True(t, emission.Equal(ev.Cause), "got %s want %s", ev.Cause, emission)
	assert.Equal(t, []any{"player", "tick"}, ev.Cause.Participants())
	assert.Equal(t, 1, h.world.EntityCount())
}

func TestCompletingNonTopIsCorruption(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	outer, err := h.tr.EnterPhase(phase.TickSimulation, cause.Of("tick"))
	require.NoError(t, err)
	inner, err := h.tr.EnterPhase(phase.ProcessInput, cause.Of("session"))
	require.NoError(t, err)

	err = h.tr.Complete(outer)
	require.ErrorIs(t, err, ErrPhaseCorruption)
	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, phase.ProcessInput, ce.Top)
	assert.Equal(t, phase.TickSimulation, ce.Found)
	assert.Contains(t, ce.Dump, "process_input")
	assert.Contains(t, ce.Dump, "tick_simulation")

	assert.Same(t, inner, h.tr.Current())
	assert.True(t, outer.Discarded())
	assert.Same(t, h.tr.stack.Root(), inner.Parent())

	require.NoError(t, h.tr.Complete(inner))
	assert.Equal(t, 1, h.tr.Depth())
	assert.Equal(t, 1, h.logs.FilterMessage("phase corruption").Len())
}

func TestScopedPhasesRestoreDepth(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	phases := []phase.Phase{phase.TickSimulation, phase.ScheduledTick, phase.ProcessInput, phase.RuleEvaluation}
	var nest func(i int) error
	nest = func(i int) error {
		if i == len(phases) {
			assert.Equal(t, len(phases)+1, h.tr.Depth())
			return nil
		}
		return h.tr.Do(phases[i], cause.Of(i), func(*phase.Context) error { return nest(i + 1) })
	}
	require.NoError(t, nest(0))
	assert.Equal(t, 1, h.tr.Depth())
}

func TestInvalidEntriesAreCorruption(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})

	require.ErrorIs(t, h.tr.Complete(h.tr.Current()), ErrPhaseCorruption, "root cannot complete")

	ctx, err := h.tr.EnterPhase(phase.TickSimulation, cause.Cause{})
	require.NoError(t, err)
	require.ErrorIs(t, h.tr.Enter(ctx), ErrPhaseCorruption, "already active")
	assert.Equal(t, 2, h.tr.Depth())
	require.NoError(t, h.tr.Complete(ctx))
	require.ErrorIs(t, h.tr.Complete(ctx), ErrPhaseCorruption, "completed twice")
	require.ErrorIs(t, h.tr.Enter(ctx), ErrPhaseCorruption, "re-entering spent context")

	_, err = h.tr.EnterPhase(phase.Unwind, cause.Cause{})
	require.ErrorIs(t, err, ErrPhaseCorruption)

	never := h.tr.NewContext(phase.ProcessInput, cause.Cause{})
	require.ErrorIs(t, h.tr.Complete(never), ErrPhaseCorruption)
	assert.Equal(t, 1, h.tr.Depth())
}

func TestRepeatedCorruptionLoggedOnce(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, h.tr.Complete(h.tr.Current()), ErrPhaseCorruption)
	}
	assert.Equal(t, 1, h.logs.FilterMessage("phase corruption").Len())
	assert.Equal(t, 2, h.logs.FilterMessage("phase corruption (repeat)").Len())

	v := newHarness(t, config.TrackerConfig{Verbose: true})
	for i := 0; i < 3; i++ {
		_ = v.tr.Complete(v.tr.Current())
	}
	assert.Equal(t, 3, v.logs.FilterMessage("phase corruption").Len())
}

func TestSideEffectsFollowCommitOrder(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	inner := world.Block(world.Pos{X: 1})
	h.register(t, pipeline.SetBlock, spawnEffect("a"))
	// break_block starts first but triggers a nested set_block that commits
	// before it does
	h.register(t, pipeline.BreakBlock, pipeline.Func("nested", func(ec *pipeline.EffectContext, _ *pipeline.Transition) pipeline.Result {
		out, err := ec.Nested.Run(pipeline.SetBlock, pipeline.Propose(inner, valueA))
		require.NoError(t, err)
		require.True(t, out.Committed())
		return pipeline.Continue(capture.Spawn(world.EntitySpec{Type: "b"}))
	}))

	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.BreakBlock, pipeline.Propose(origin, world.Air))
		return err
	})
	require.NoError(t, err)

	require.Len(t, h.rec.events, 2)
	assert.Equal(t, "a", h.rec.events[0].Entity.Type)
	assert.Equal(t, "b", h.rec.events[1].Entity.Type)
}

func TestCancelRevertsNestedTransitions(t *testing.T) {
	for _, p := range []phase.Phase{phase.TickSimulation, phase.GenerateContent} {
		t.Run(p.String(), func(t *testing.T) {
			h := newHarness(t, config.TrackerConfig{})
			inner := world.Block(world.Pos{X: 1})
			h.register(t, pipeline.SetBlock, spawnEffect("a"))
			h.register(t, pipeline.BreakBlock,
				pipeline.Func("nested", func(ec *pipeline.EffectContext, _ *pipeline.Transition) pipeline.Result {
					out, err := ec.Nested.Run(pipeline.SetBlock, pipeline.Propose(inner, valueA))
					require.NoError(t, err)
					require.True(t, out.Committed())
					return pipeline.Continue()
				}),
				pipeline.AlwaysCancel("blocked"),
			)
			h.world.Set(origin, valueB)

			err := h.tr.Do(p, cause.Of("test"), func(*phase.Context) error {
				out, err := h.tr.Run(pipeline.BreakBlock, pipeline.Propose(origin, world.Air))
				require.NoError(t, err)
				assert.True(t, out.Cancelled())
				return nil
			})
			require.NoError(t, err)

			assert.Equal(t, world.Air, h.world.Get(inner), "nested commit is unwound")
			assert.Equal(t, valueB, h.world.Get(origin))
			assert.Empty(t, h.rec.events, "nested spawn is never dispatched")
			assert.Zero(t, h.world.EntityCount())
			assert.Empty(t, h.jr.entries)
		})
	}
}

func TestVetoDropsOnlyTheSideEffect(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, spawnEffect("item"))
	h.rec.veto = func(ev event.SideEffect) bool { return ev.Kind == capture.SpawnEntity }

	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		return err
	})
	require.NoError(t, err)
	assert.Len(t, h.rec.events, 1)
	assert.Zero(t, h.world.EntityCount())
	assert.Equal(t, valueB, h.world.Get(origin), "veto does not revert the transition")
	assert.Len(t, h.jr.entries, 1)
}

func TestCapturedChangesRunInUnwind(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	neighbor := world.Block(world.Pos{Y: 1})
	h.world.Set(neighbor, valueA)
	h.register(t, pipeline.SetBlock, pipeline.Func("break_above", func(*pipeline.EffectContext, *pipeline.Transition) pipeline.Result {
		return pipeline.Continue(capture.Change(neighbor, world.Air, string(pipeline.BreakBlock)))
	}))
	h.register(t, pipeline.BreakBlock, spawnEffect("drop"))

	var during phase.Phase
	h.rec.veto = func(ev event.SideEffect) bool {
		during = h.tr.Current().Phase()
		return false
	}

	err := h.tr.Do(phase.ProcessInput, cause.Of("session"), func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		assert.Equal(t, valueA, h.world.Get(neighbor), "change is deferred")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, world.Air, h.world.Get(neighbor))
	assert.Equal(t, phase.Unwind, during)
	require.Len(t, h.rec.events, 2)
	change, spawn := h.rec.events[0], h.rec.events[1]
	assert.Equal(t, capture.ChangeBlock, change.Kind)
	assert.Equal(t, capture.SpawnEntity, spawn.Kind)
	assert.Equal(t, phase.ProcessInput, change.Phase)
	assert.Equal(t, phase.Unwind, spawn.Phase)
	assert.True(t, change.Cause.Equal(spawn.Cause), "nested side effect keeps the original cause: %s vs %s", change.Cause, spawn.Cause)
	assert.Equal(t, 1, h.world.EntityCount())
	assert.Len(t, h.jr.entries, 2)
	assert.Equal(t, 1, h.tr.Depth())
}

func TestNonDeferringPhaseMaterializesImmediately(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.Generate, spawnEffect("marker"))

	err := h.tr.Do(phase.GenerateContent, cause.Of("generator"), func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.Generate, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		assert.Len(t, h.rec.events, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, h.rec.events, 1)
}

func TestRevertThroughTracker(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.NotifyNeighbors())
	var notified int
	h.tr.SetNeighborFunc(func(world.Pos, world.Pos) { notified++ })
	h.world.Set(origin, valueA)

	var handle txlog.Handle
	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(ctx *phase.Context) error {
		out, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		assert.Equal(t, 6, ctx.PendingCaptures())
		handle = out.Handle
		require.NoError(t, h.tr.Revert(handle))
		assert.Zero(t, ctx.PendingCaptures())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, valueA, h.world.Get(origin))
	assert.Empty(t, h.rec.events)
	assert.Zero(t, notified)
	assert.Empty(t, h.jr.entries)
	require.ErrorIs(t, h.tr.Revert(handle), txlog.ErrInvalidHandle, "stale after completion")
}

func TestNoOpCommitAndRevert(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.Noop())
	h.world.Set(origin, valueA)

	err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error {
		out, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueA))
		require.NoError(t, err)
		assert.True(t, out.NoOp)
		assert.Equal(t, valueA, h.world.Get(origin))
		require.NoError(t, h.tr.Revert(out.Handle))
		assert.Equal(t, valueA, h.world.Get(origin))
		return nil
	})
	require.NoError(t, err)
}

func TestNeighborNotifications(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.NotifyNeighbors())
	var targets []world.Pos
	h.tr.SetNeighborFunc(func(target, source world.Pos) {
		assert.Equal(t, world.Pos{}, source)
		targets = append(targets, target)
	})
	err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		return err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, world.Pos{}.Neighbors(), targets)
}

func TestRunOnRootIsFinal(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, spawnEffect("item"))

	out, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
	require.NoError(t, err)
	assert.True(t, out.Committed())
	assert.Len(t, h.rec.events, 1, "idle materializes immediately")
	assert.Len(t, h.jr.entries, 1)
	require.ErrorIs(t, h.tr.Revert(out.Handle), txlog.ErrInvalidHandle)

	_, err = h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueA))
	require.NoError(t, err)
	require.Len(t, h.jr.entries, 2)
	assert.Equal(t, 0, h.jr.entries[1].Seq)
	assert.NotEqual(t, h.jr.entries[0].Context, h.jr.entries[1].Context, "each root commit gets its own journal key")
}

func TestUnknownPipeline(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	_, err := h.tr.Run("teleport", pipeline.Propose(origin, valueB))
	require.ErrorIs(t, err, pipeline.ErrUnknownPipeline)
}

func TestDoCompletesOnPanicAndError(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	boom := errors.New("boom")

	err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.tr.Depth())

	require.Panics(t, func() {
		_ = h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error { panic("kaboom") })
	})
	assert.Equal(t, 1, h.tr.Depth())
	assert.Zero(t, h.tr.Causes().Frames())
}

func TestDoReportsLeakedCauseFrames(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error {
		f := h.tr.Causes().PushFrame()
		return f.Push("leaked")
	})
	require.ErrorIs(t, err, cause.ErrFrameOrder)
	assert.Zero(t, h.tr.Causes().Depth())
	assert.Zero(t, h.tr.Causes().Frames())
	assert.Equal(t, 1, h.tr.Depth())
	assert.Equal(t, 1, h.logs.FilterMessage("cause stack violation").Len())
}

func TestDoReturnsOverflow(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{MaxCauseDepth: 2})
	err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error {
		f := h.tr.Causes().PushFrame()
		defer f.Release()
		for i := 0; i < 3; i++ {
			if err := f.Push(i); err != nil {
				return err
			}
		}
		return nil
	})
	require.ErrorIs(t, err, cause.ErrStackOverflow)
	assert.Equal(t, 1, h.tr.Depth())
}

func TestRunawayPhase(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{MaxPhaseDepth: 3})
	a, err := h.tr.EnterPhase(phase.TickSimulation, cause.Cause{})
	require.NoError(t, err)
	b, err := h.tr.EnterPhase(phase.ProcessInput, cause.Cause{})
	require.NoError(t, err)
	_, err = h.tr.EnterPhase(phase.RuleEvaluation, cause.Cause{})
	require.ErrorIs(t, err, ErrRunawayPhase)
	assert.Equal(t, 3, h.tr.Depth())
	require.NoError(t, h.tr.Complete(b))
	require.NoError(t, h.tr.Complete(a))
}

func TestVerboseWarnsOncePerPhase(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{Verbose: true, RunawayWarnDepth: 2})
	for i := 0; i < 2; i++ {
		err := h.tr.Do(phase.TickSimulation, cause.Cause{}, func(*phase.Context) error {
			return h.tr.Do(phase.RuleEvaluation, cause.Cause{}, func(*phase.Context) error { return nil })
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.logs.FilterMessage("deep phase nesting").Len())
}

func TestAsyncAccessRejected(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.Noop())

	errs := make(chan error, 2)
	go func() {
		_, err := h.tr.EnterPhase(phase.TickSimulation, cause.Cause{})
		errs <- err
		_, err = h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		errs <- err
	}()
	require.ErrorIs(t, <-errs, ErrAsyncAccess)
	require.ErrorIs(t, <-errs, ErrAsyncAccess)
	assert.Equal(t, 1, h.tr.Depth())
	assert.Equal(t, world.Air, h.world.Get(origin))
}

func TestDumpStack(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	h.register(t, pipeline.SetBlock, pipeline.NotifyNeighbors())
	err := h.tr.Do(phase.TickSimulation, cause.Of("tick"), func(*phase.Context) error {
		_, err := h.tr.Run(pipeline.SetBlock, pipeline.Propose(origin, valueB))
		require.NoError(t, err)
		dump := h.tr.DumpStack()
		assert.Contains(t, dump, "[1] tick_simulation")
		assert.Contains(t, dump, "notify=6")
		assert.Contains(t, dump, "[0] idle")
		assert.Contains(t, dump, "cause: [tick]")
		return nil
	})
	require.NoError(t, err)
}

func TestRegisterPipelineConflict(t *testing.T) {
	h := newHarness(t, config.TrackerConfig{})
	require.NoError(t, h.tr.RegisterPipeline(pipeline.SetBlock, pipeline.Noop()))
	require.NoError(t, h.tr.RegisterPipeline(pipeline.SetBlock, pipeline.Noop()), "same chain again")

	err := h.tr.RegisterPipeline(pipeline.SetBlock, pipeline.AlwaysCancel("x"))
	assert.ErrorIs(t, err, pipeline.ErrPipelineConflict)
	assert.Equal(t, []pipeline.Kind{pipeline.SetBlock}, h.reg.Kinds())
}
