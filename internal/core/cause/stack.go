package cause

import (
	"errors"
	"fmt"
)

var (
	ErrStackUnderflow = errors.New("cause stack underflow")
	ErrStackOverflow  = errors.New("cause stack overflow")
	ErrFrameOrder     = errors.New("cause frame released out of order")
	ErrFrameReleased  = errors.New("cause frame already released")
)

// DefaultMaxDepth bounds the participant count when no limit is configured.
const DefaultMaxDepth = 512

type contextUndo struct {
	key  ContextKey
	prev any
	had  bool
}

// Stack is the per-simulation-goroutine cause stack. Participants and context
// entries may only be added through a Frame, so every change is undone when the
// frame is released. Not safe for concurrent use.
type Stack struct {
	participants []any
	context      map[ContextKey]any
	frames       []*Frame
	maxDepth     int

	cached *Cause
}

// NewStack creates an empty stack. maxDepth <= 0 selects DefaultMaxDepth.
func NewStack(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Stack{
		participants: make([]any, 0, 32),
		context:      make(map[ContextKey]any),
		frames:       make([]*Frame, 0, 16),
		maxDepth:     maxDepth,
	}
}

// Depth returns the number of participants currently on the stack.
func (s *Stack) Depth() int { return len(s.participants) }

// Frames returns the number of unreleased frames.
func (s *Stack) Frames() int { return len(s.frames) }

// PushFrame opens a new scoped frame. Callers must release it, normally via defer.
func (s *Stack) PushFrame() *Frame {
	f := &Frame{stack: s, marker: len(s.participants)}
	s.frames = append(s.frames, f)
	return f
}

// CurrentCause materializes the stack. The snapshot is cached until the next change.
func (s *Stack) CurrentCause() Cause {
	if s.cached != nil {
		return *s.cached
	}
	var c Cause
	if n := len(s.participants); n > 0 {
		c.participants = make([]any, n)
		for i, p := range s.participants {
			c.participants[n-1-i] = p
		}
	}
	if len(s.context) > 0 {
		c.context = make(map[ContextKey]any, len(s.context))
		for k, v := range s.context {
			c.context[k] = v
		}
	}
	s.cached = &c
	return c
}

// Since materializes only what f and the frames opened after it added. A
// released or foreign frame yields an empty cause.
func (s *Stack) Since(f *Frame) Cause {
	idx := -1
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			idx = i
			break
		}
	}
	var c Cause
	if idx < 0 {
		return c
	}
	if n := len(s.participants) - f.marker; n > 0 {
		c.participants = make([]any, n)
		for i := 0; i < n; i++ {
			c.participants[i] = s.participants[len(s.participants)-1-i]
		}
	}
	for _, fr := range s.frames[idx:] {
		for _, u := range fr.undo {
			v, ok := s.context[u.key]
			if !ok {
				continue
			}
			if c.context == nil {
				c.context = make(map[ContextKey]any)
			}
			c.context[u.key] = v
		}
	}
	return c
}

func (s *Stack) top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *Stack) invalidate() { s.cached = nil }

// Frame is a scoped acquisition on a Stack.
type Frame struct {
	stack    *Stack
	marker   int
	undo     []contextUndo
	released bool
}

func (f *Frame) check() error {
	if f.released {
		return ErrFrameReleased
	}
	if f.stack.top() != f {
		return fmt.Errorf("%w: frame is not on top", ErrFrameOrder)
	}
	return nil
}

// Push appends a participant.
func (f *Frame) Push(p any) error {
	if err := f.check(); err != nil {
		return err
	}
	s := f.stack
	if len(s.participants) >= s.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrStackOverflow, s.maxDepth)
	}
	s.participants = append(s.participants, p)
	s.invalidate()
	return nil
}

// Pop removes the most recent participant pushed through this frame.
func (f *Frame) Pop() (any, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	s := f.stack
	if len(s.participants) <= f.marker {
		return nil, ErrStackUnderflow
	}
	last := len(s.participants) - 1
	p := s.participants[last]
	s.participants[last] = nil
	s.participants = s.participants[:last]
	s.invalidate()
	return p, nil
}

// AddContext sets a side-context entry; last write wins.
func (f *Frame) AddContext(key ContextKey, value any) error {
	if err := f.check(); err != nil {
		return err
	}
	s := f.stack
	prev, had := s.context[key]
	f.undo = append(f.undo, contextUndo{key: key, prev: prev, had: had})
	s.context[key] = value
	s.invalidate()
	return nil
}

// RemoveContext deletes a side-context entry and returns its previous value.
func (f *Frame) RemoveContext(key ContextKey) (any, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	s := f.stack
	prev, had := s.context[key]
	if !had {
		return nil, nil
	}
	f.undo = append(f.undo, contextUndo{key: key, prev: prev, had: true})
	delete(s.context, key)
	s.invalidate()
	return prev, nil
}

// Release restores the stack to its state at acquisition. Frames acquired after
// f that are still open are released first and ErrFrameOrder is returned.
// Releasing twice is a no-op.
func (f *Frame) Release() error {
	if f.released {
		return nil
	}
	s := f.stack
	idx := -1
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.released = true
		return ErrFrameReleased
	}
	var err error
	if above := len(s.frames) - 1 - idx; above > 0 {
		err = fmt.Errorf("%w: %d newer frame(s) still open", ErrFrameOrder, above)
		for len(s.frames)-1 > idx {
			s.top().unwind()
		}
	}
	f.unwind()
	return err
}

func (f *Frame) unwind() {
	s := f.stack
	for i := f.marker; i < len(s.participants); i++ {
		s.participants[i] = nil
	}
	if f.marker < len(s.participants) {
		s.participants = s.participants[:f.marker]
	}
	for i := len(f.undo) - 1; i >= 0; i-- {
		u := f.undo[i]
		if u.had {
			s.context[u.key] = u.prev
		} else {
			delete(s.context, u.key)
		}
	}
	f.undo = nil
	f.released = true
	s.frames = s.frames[:len(s.frames)-1]
	s.invalidate()
}
