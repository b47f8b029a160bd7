package txlog

import (
	"errors"
	"fmt"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/world"
)

var ErrInvalidHandle = errors.New("invalid transaction handle")

// Status is the outcome of one logged transition.
type Status uint8

const (
	Pending Status = iota
	Committed
	NoOp // committed with the new value equal to the prior one
	Reverted
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case NoOp:
		return "noop"
	case Reverted:
		return "reverted"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Entry records one proposed transition and what became of it.
type Entry struct {
	Seq      int
	Kind     string
	Target   world.Target
	Prior    world.Value
	Proposed world.Value
	Final    world.Value
	Cause    cause.Cause
	Effects  []string
	Emitted  []capture.SideEffect
	Status   Status
	Reason   string

	// Parent is the seq of the transition that was in flight when this one
	// began, or -1. Children are reverted with their parent.
	Parent   int
	Children []int
}

// Handle refers to one entry of one Log.
type Handle struct {
	log *Log
	seq int
}

func (h Handle) Seq() int { return h.seq }

func (h Handle) IsZero() bool { return h.log == nil }

// Log is the append-only transaction record of one phase context. Entries
// live until the log is closed at phase completion.
type Log struct {
	model     world.Model
	entries   []*Entry
	open      []int // pending seqs, innermost last
	closed    bool
	onDiscard func(seq int)
}

func New(model world.Model) *Log {
	return &Log{model: model, entries: make([]*Entry, 0, 8)}
}

// OnDiscard registers fn, called with the entry seq whenever a committed
// entry is reverted, so its already-queued side effects can be dropped.
func (l *Log) OnDiscard(fn func(seq int)) { l.onDiscard = fn }

func (l *Log) entry(h Handle) (*Entry, error) {
	if h.log != l {
		return nil, fmt.Errorf("%w: handle belongs to another log", ErrInvalidHandle)
	}
	if l.closed {
		return nil, fmt.Errorf("%w: log closed", ErrInvalidHandle)
	}
	if h.seq < 0 || h.seq >= len(l.entries) {
		return nil, fmt.Errorf("%w: seq %d", ErrInvalidHandle, h.seq)
	}
	return l.entries[h.seq], nil
}

// Owns reports whether h was issued by l and l is still open.
func (l *Log) Owns(h Handle) bool {
	return h.log == l && !l.closed
}

// Begin opens a pending entry for target.
func (l *Log) Begin(kind string, target world.Target, prior, proposed world.Value, c cause.Cause) (Handle, error) {
	if l.closed {
		return Handle{}, fmt.Errorf("%w: log closed", ErrInvalidHandle)
	}
	e := &Entry{
		Seq:      len(l.entries),
		Kind:     kind,
		Target:   target,
		Prior:    prior,
		Proposed: proposed,
		Cause:    c,
		Parent:   -1,
	}
	if n := len(l.open); n > 0 {
		parent := l.entries[l.open[n-1]]
		e.Parent = parent.Seq
		parent.Children = append(parent.Children, e.Seq)
	}
	l.entries = append(l.entries, e)
	l.open = append(l.open, e.Seq)
	return Handle{log: l, seq: e.Seq}, nil
}

// RecordEffect notes that effect ran and what it emitted.
func (l *Log) RecordEffect(h Handle, effect string, emitted []capture.SideEffect) error {
	e, err := l.entry(h)
	if err != nil {
		return err
	}
	if e.Status != Pending {
		return fmt.Errorf("%w: entry %d is %s", ErrInvalidHandle, e.Seq, e.Status)
	}
	e.Effects = append(e.Effects, effect)
	e.Emitted = append(e.Emitted, emitted...)
	return nil
}

// Commit writes value into the world model and closes the entry. A value
// equal to the prior snapshot is recorded as a no-op commit.
func (l *Log) Commit(h Handle, value world.Value) (Entry, error) {
	e, err := l.entry(h)
	if err != nil {
		return Entry{}, err
	}
	if e.Status != Pending {
		return Entry{}, fmt.Errorf("%w: entry %d is %s", ErrInvalidHandle, e.Seq, e.Status)
	}
	l.settle(e.Seq)
	e.Final = value
	if value == e.Prior {
		e.Status = NoOp
	} else {
		e.Status = Committed
		l.model.Set(e.Target, value)
	}
	return *e, nil
}

// Cancel reverts a pending entry with a reason, together with every nested
// transition committed while it was in flight.
func (l *Log) Cancel(h Handle, reason string) error {
	e, err := l.entry(h)
	if err != nil {
		return err
	}
	if e.Status != Pending {
		return fmt.Errorf("%w: entry %d is %s", ErrInvalidHandle, e.Seq, e.Status)
	}
	l.settle(e.Seq)
	e.Reason = reason
	l.revert(e)
	return nil
}

// settle drops seq from the in-flight stack.
func (l *Log) settle(seq int) {
	for i := len(l.open) - 1; i >= 0; i-- {
		if l.open[i] == seq {
			l.open = append(l.open[:i], l.open[i+1:]...)
			return
		}
	}
}

// Revert restores the entry's prior value into the world model and discards
// its emitted side effects. Nested transitions are reverted first, newest
// first. Reverting an already reverted entry does nothing.
func (l *Log) Revert(h Handle) error {
	e, err := l.entry(h)
	if err != nil {
		return err
	}
	if e.Status == Reverted {
		return nil
	}
	l.revert(e)
	return nil
}

func (l *Log) revert(e *Entry) {
	l.settle(e.Seq)
	for i := len(e.Children) - 1; i >= 0; i-- {
		if c := l.entries[e.Children[i]]; c.Status != Reverted {
			l.revert(c)
		}
	}
	wasCommitted := e.Status == Committed || e.Status == NoOp
	l.model.Set(e.Target, e.Prior)
	e.Final = e.Prior
	e.Emitted = nil
	e.Status = Reverted
	if wasCommitted && l.onDiscard != nil {
		l.onDiscard(e.Seq)
	}
}

// Get returns a copy of the entry behind h.
func (l *Log) Get(h Handle) (Entry, error) {
	e, err := l.entry(h)
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}

// Latest returns the most recent entry touching target.
func (l *Log) Latest(target world.Target) (Entry, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Target == target {
			return *l.entries[i], true
		}
	}
	return Entry{}, false
}

// Entries returns copies of all entries in begin order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Committed returns the entries that are still committed, in begin order.
func (l *Log) Committed() []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.Status == Committed || e.Status == NoOp {
			out = append(out, *e)
		}
	}
	return out
}

func (l *Log) Len() int { return len(l.entries) }

// Close invalidates every handle issued by l.
func (l *Log) Close() { l.closed = true }

func (l *Log) Closed() bool { return l.closed }
