package phase

import (
	"github.com/oklog/ulid/v2"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/txlog"
	"github.com/l1jgo/phasetrack/internal/world"
)

type lifecycle uint8

const (
	built lifecycle = iota
	active
	completed
	discarded
)

// Context is one activation of a Phase. It owns its capture queue and its
// transaction log; neither is shared with parent or child contexts.
type Context struct {
	id     ulid.ULID
	phase  Phase
	source cause.Cause
	parent *Context

	notifier any
	owner    any

	captures []capture.SideEffect
	log      *txlog.Log
	state    lifecycle
}

// NewContext builds an unentered context whose transactions commit into model.
func NewContext(p Phase, source cause.Cause, model world.Model) *Context {
	c := &Context{
		id:     ulid.Make(),
		phase:  p,
		source: source,
		log:    txlog.New(model),
	}
	c.log.OnDiscard(c.dropTx)
	return c
}

func (c *Context) ID() ulid.ULID       { return c.id }
func (c *Context) Phase() Phase        { return c.phase }
func (c *Context) Source() cause.Cause { return c.source }
func (c *Context) Parent() *Context    { return c.parent }
func (c *Context) Log() *txlog.Log     { return c.log }

func (c *Context) Active() bool    { return c.state == active }
func (c *Context) Completed() bool { return c.state == completed }
func (c *Context) Discarded() bool { return c.state == discarded }

// Spent reports whether the context has already left the stack.
func (c *Context) Spent() bool { return c.state == completed || c.state == discarded }

// Rotate closes the current log and starts a fresh one under a new id. Used
// for the root context, which never completes.
func (c *Context) Rotate(model world.Model) {
	c.id = ulid.Make()
	c.log.Close()
	c.log = txlog.New(model)
	c.log.OnDiscard(c.dropTx)
}

// SetNotifier records who notified the activity. Ignored for phases that do
// not track ownership.
func (c *Context) SetNotifier(v any) {
	if c.phase.Behavior().TracksOwner {
		c.notifier = v
	}
}

// SetOwner records who owns the activity. Ignored for phases that do not
// track ownership.
func (c *Context) SetOwner(v any) {
	if c.phase.Behavior().TracksOwner {
		c.owner = v
	}
}

// Notifier returns the nearest notifier on this context or its ancestors.
func (c *Context) Notifier() any {
	for x := c; x != nil; x = x.parent {
		if x.notifier != nil {
			return x.notifier
		}
	}
	return nil
}

// Owner returns the nearest owner on this context or its ancestors.
func (c *Context) Owner() any {
	for x := c; x != nil; x = x.parent {
		if x.owner != nil {
			return x.owner
		}
	}
	return nil
}

// Capture queues side effects for materialization.
func (c *Context) Capture(effects ...capture.SideEffect) {
	c.captures = append(c.captures, effects...)
}

// Captures returns a copy of the queue.
func (c *Context) Captures() []capture.SideEffect {
	out := make([]capture.SideEffect, len(c.captures))
	copy(out, c.captures)
	return out
}

func (c *Context) PendingCaptures() int { return len(c.captures) }

// CaptureCounts returns the number of queued captures per kind.
func (c *Context) CaptureCounts() map[capture.Kind]int {
	out := make(map[capture.Kind]int, len(capture.Kinds))
	for _, se := range c.captures {
		out[se.Kind]++
	}
	return out
}

// DrainCaptures empties the queue and returns what it held.
func (c *Context) DrainCaptures() []capture.SideEffect {
	out := c.captures
	c.captures = nil
	return out
}

// dropTx removes the queued side effects of a reverted transaction.
func (c *Context) dropTx(seq int) {
	kept := c.captures[:0]
	for _, se := range c.captures {
		if se.Tx != seq {
			kept = append(kept, se)
		}
	}
	for i := len(kept); i < len(c.captures); i++ {
		c.captures[i] = capture.SideEffect{}
	}
	c.captures = kept
}

func (c *Context) String() string {
	return c.phase.String() + "#" + c.id.String()
}
