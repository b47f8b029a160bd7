package phase

import (
	"errors"
	"fmt"
)

var (
	ErrContextActive = errors.New("context already active")
	ErrContextSpent  = errors.New("context already completed")
	ErrNotOnTop      = errors.New("context is not on top of the stack")
	ErrNotOnStack    = errors.New("context is not on the stack")
	ErrRootContext   = errors.New("root context cannot leave the stack")
)

// Stack is the LIFO of active contexts. Index 0 is the root Idle context,
// which never leaves.
type Stack struct {
	contexts []*Context
}

// NewStack returns a stack holding root, which must be an Idle context.
func NewStack(root *Context) *Stack {
	root.state = active
	return &Stack{contexts: []*Context{root}}
}

// Push activates c on top of the stack.
func (s *Stack) Push(c *Context) error {
	switch c.state {
	case active:
		return fmt.Errorf("push %s: %w", c, ErrContextActive)
	case completed, discarded:
		return fmt.Errorf("push %s: %w", c, ErrContextSpent)
	}
	c.parent = s.Peek()
	c.state = active
	s.contexts = append(s.contexts, c)
	return nil
}

// Pop removes c, which must be on top, and marks it completed.
func (s *Stack) Pop(c *Context) error {
	if c == s.Root() {
		return fmt.Errorf("pop %s: %w", c, ErrRootContext)
	}
	if top := s.Peek(); top != c {
		return fmt.Errorf("pop %s (top %s): %w", c, top, ErrNotOnTop)
	}
	s.contexts[len(s.contexts)-1] = nil
	s.contexts = s.contexts[:len(s.contexts)-1]
	c.state = completed
	c.log.Close()
	return nil
}

// Discard removes c from wherever it sits, drops its captures and closes its
// log. The context above it, if any, is re-parented to c's parent.
func (s *Stack) Discard(c *Context) error {
	if c == s.Root() {
		return fmt.Errorf("discard %s: %w", c, ErrRootContext)
	}
	i := s.index(c)
	if i < 0 {
		return fmt.Errorf("discard %s: %w", c, ErrNotOnStack)
	}
	if i+1 < len(s.contexts) {
		s.contexts[i+1].parent = c.parent
	}
	copy(s.contexts[i:], s.contexts[i+1:])
	s.contexts[len(s.contexts)-1] = nil
	s.contexts = s.contexts[:len(s.contexts)-1]
	c.state = discarded
	c.captures = nil
	c.log.Close()
	return nil
}

func (s *Stack) index(c *Context) int {
	for i := len(s.contexts) - 1; i >= 0; i-- {
		if s.contexts[i] == c {
			return i
		}
	}
	return -1
}

// Peek returns the currently executing context.
func (s *Stack) Peek() *Context { return s.contexts[len(s.contexts)-1] }

func (s *Stack) Root() *Context { return s.contexts[0] }

// Depth counts contexts including the root.
func (s *Stack) Depth() int { return len(s.contexts) }

func (s *Stack) Contains(c *Context) bool { return s.index(c) >= 0 }

// Each visits contexts from top to bottom.
func (s *Stack) Each(fn func(*Context)) {
	for i := len(s.contexts) - 1; i >= 0; i-- {
		fn(s.contexts[i])
	}
}

// CountPhase returns how many active contexts run phase p.
func (s *Stack) CountPhase(p Phase) int {
	n := 0
	for _, c := range s.contexts {
		if c.phase == p {
			n++
		}
	}
	return n
}
