package system

import (
	"context"
	"errors"
	gonet "net"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/event"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/persist"
	"github.com/l1jgo/phasetrack/internal/scripting"
	"github.com/l1jgo/phasetrack/internal/world"
)

func newTracker(t *testing.T, ws *world.State, effects ...pipeline.Effect) *tracker.Tracker {
	t.Helper()
	reg := pipeline.NewRegistry(pipeline.CancelFirst)
	require.NoError(t, reg.Register(pipeline.SetBlock, effects...))
	return tracker.New(config.TrackerConfig{MaxPhaseDepth: 32}, ws, reg, zap.NewNop())
}

// fallRule moves any block down one cell while the cell below is air.
type fallRule struct{ calls int }

func (r *fallRule) EvaluateTick(_ string, view world.View, p world.Pos) []scripting.Change {
	r.calls++
	v := view.Get(world.Block(p))
	below := p.Add(0, -1, 0)
	if v.IsEmpty() || p.Y == 0 || !view.Get(world.Block(below)).IsEmpty() {
		return nil
	}
	return []scripting.Change{{Pos: p, Value: world.Air}, {Pos: below, Value: v}}
}

type reactiveSet map[string]bool

func (r reactiveSet) IsReactive(typ string) bool { return r[typ] }

func TestScheduledTickMovesBlockAndRewakes(t *testing.T) {
	ws := world.NewState(0)
	tr := newTracker(t, ws, pipeline.NotifyNeighbors())
	rule := &fallRule{}
	sys := NewScheduledTickSystem(tr, ws, rule, "on_block_tick", reactiveSet{"sand": true}, 2, zap.NewNop())
	tr.SetNeighborFunc(sys.Wake)

	sand := world.Pos{Y: 3}
	ws.Set(world.Block(sand), world.Value{Type: "sand"})
	ws.ScheduleTick(sand, 1)

	sys.Update(time.Millisecond)
	assert.Equal(t, uint64(1), sys.Now())
	assert.Equal(t, world.Air, ws.Get(world.Block(sand)))
	assert.Equal(t, "sand", ws.Get(world.Block(sand.Add(0, -1, 0))).Type)
	assert.Equal(t, 1, ws.PendingTicks(), "the moved block is woken by its own notifications")
	assert.Equal(t, 1, tr.Depth())

	sys.Update(time.Millisecond) // tick 2: nothing due yet
	assert.Equal(t, 1, rule.calls)
	sys.Update(time.Millisecond) // tick 3
	assert.Equal(t, 2, rule.calls)
	assert.Equal(t, "sand", ws.Get(world.Block(world.Pos{Y: 1})).Type)
}

func TestWakeIgnoresInertBlocks(t *testing.T) {
	ws := world.NewState(0)
	sys := NewScheduledTickSystem(newTracker(t, ws), ws, &fallRule{}, "f", reactiveSet{"sand": true}, 0, zap.NewNop())
	ws.Set(world.Block(world.Pos{X: 1}), world.Value{Type: "stone"})
	sys.Wake(world.Pos{X: 1}, world.Pos{X: 2})
	assert.Equal(t, 0, ws.PendingTicks())
}

func TestScheduledTickChangesSkipDrops(t *testing.T) {
	ws := world.NewState(0)
	var flags []pipeline.Flags
	probe := pipeline.Func("probe", func(_ *pipeline.EffectContext, tr *pipeline.Transition) pipeline.Result {
		flags = append(flags, tr.Flags)
		return pipeline.Continue()
	})
	tr := newTracker(t, ws, probe)
	sys := NewScheduledTickSystem(tr, ws, &fallRule{}, "f", reactiveSet{}, 1, zap.NewNop())
	ws.Set(world.Block(world.Pos{Y: 2}), world.Value{Type: "gravel"})
	ws.ScheduleTick(world.Pos{Y: 2}, 1)
	sys.Update(0)
	require.Len(t, flags, 2)
	for _, f := range flags {
		assert.True(t, f.Has(pipeline.SkipDrops))
	}
}

type fakeSource struct{ ch chan *net.Session }

func (f fakeSource) NewSessions() <-chan *net.Session { return f.ch }

func newSession(t *testing.T, id uint64) *net.Session {
	t.Helper()
	server, client := gonet.Pipe()
	t.Cleanup(func() { client.Close() })
	return net.NewSession(server, id, net.SessionOptions{InQueueSize: 8, OutQueueSize: 8}, zap.NewNop())
}

func TestInputSystemRunsCommandsInProcessInput(t *testing.T) {
	ws := world.NewState(0)
	tr := newTracker(t, ws)
	reg := packet.NewRegistry(packet.UTF8, zap.NewNop())

	type seen struct {
		phase phase.Phase
		root  any
		owner any
	}
	var got []seen
	reg.Register(packet.C_OPCODE_SET_BLOCK, []packet.SessionState{packet.StateHandshake}, func(sess any, _ *packet.Reader) {
		got = append(got, seen{tr.Current().Phase(), tr.CurrentCause().Root(), tr.Current().Owner()})
	})

	src := fakeSource{ch: make(chan *net.Session, 1)}
	store := net.NewSessionStore()
	sys := NewInputSystem(src, reg, store, tr, 2, zap.NewNop())
	assert.Equal(t, "input", sys.Stage().String())

	sess := newSession(t, 1)
	src.ch <- sess
	for i := 0; i < 3; i++ {
		sess.InQueue <- []byte{packet.C_OPCODE_SET_BLOCK}
	}

	sys.Update(0)
	assert.Equal(t, 1, store.Count())
	require.Len(t, got, 2, "at most maxPerTick commands per session per tick")
	assert.Equal(t, phase.ProcessInput, got[0].phase)
	assert.Same(t, sess, got[0].root)
	assert.Same(t, sess, got[0].owner)
	assert.Equal(t, 1, tr.Depth())

	sess.Close()
	sys.Update(0)
	assert.Len(t, got, 3, "commands queued before the disconnect still run")
	assert.Equal(t, 0, store.Count())
}

type fakeWriter struct {
	batches [][]persist.JournalEntry
	fail    error
}

func (w *fakeWriter) Write(_ context.Context, entries []persist.JournalEntry) error {
	if w.fail != nil {
		return w.fail
	}
	w.batches = append(w.batches, append([]persist.JournalEntry(nil), entries...))
	return nil
}

func TestPersistenceFlushesJournalNextTick(t *testing.T) {
	bus := event.NewBus()
	w := &fakeWriter{}
	core, logs := observer.New(zap.DebugLevel)
	dispatch := NewEventDispatchSystem(bus, zap.NewNop())
	sys := NewPersistenceSystem(bus, w, 2, zap.New(core))

	id := ulid.Make()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bus.Journal(event.TransitionCommitted{
			Context: id,
			Phase:   phase.ProcessInput,
			Seq:     i,
			Kind:    "set_block",
			Target:  world.Slot(world.Pos{X: 1, Y: 2, Z: 3}, 4),
			Final:   world.Value{Type: "flint", Count: 3},
			Effects: []string{"stack_limit"},
			Cause:   cause.Of("s1"),
			At:      at,
		})
	}
	sys.Update(0)
	assert.Equal(t, 0, sys.Pending(), "events are delivered the tick after they are queued")

	dispatch.Update(0)
	assert.Equal(t, 3, sys.Pending())

	w.fail = errors.New("db down")
	sys.Update(0)
	assert.Equal(t, 3, sys.Pending())
	assert.Equal(t, 1, logs.FilterMessage("journal write failed").Len())

	w.fail = nil
	sys.Update(0)
	assert.Equal(t, 0, sys.Pending())
	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[1], 1)

	e := w.batches[0][0]
	assert.Equal(t, id.String(), e.ContextID)
	assert.Equal(t, "process_input", e.Phase)
	assert.Equal(t, "slot", e.TargetKind)
	assert.Equal(t, int32(4), e.Slot)
	assert.Equal(t, "flint", e.FinalType)
	assert.Equal(t, int32(3), e.FinalCount)
	assert.Equal(t, at, e.CommittedAt)
}

func TestCleanupFlushesDespawned(t *testing.T) {
	ws := world.NewState(0)
	id := ws.SpawnEntity(world.EntitySpec{Type: "item"})
	ws.Despawn(id)
	sys := NewCleanupSystem(ws, zap.NewNop())
	sys.Update(0)
	assert.Equal(t, 0, ws.EntityCount())
}
