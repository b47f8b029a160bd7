package cause

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ContextKey names an entry in a Cause's side context.
type ContextKey string

const (
	KeyNotifier  ContextKey = "notifier"
	KeyOwner     ContextKey = "owner"
	KeySpawnType ContextKey = "spawn_type"
	KeySession   ContextKey = "session"
	KeyTick      ContextKey = "tick"
)

// Cause is an immutable snapshot of who/why an event happened.
// Participants are ordered most recent first; Root is the first one.
type Cause struct {
	participants []any
	context      map[ContextKey]any
}

// Of builds a Cause from participants, first argument being the root.
func Of(participants ...any) Cause {
	if len(participants) == 0 {
		return Cause{}
	}
	p := make([]any, len(participants))
	copy(p, participants)
	return Cause{participants: p}
}

// With returns a copy of c with key set to value.
func (c Cause) With(key ContextKey, value any) Cause {
	ctx := make(map[ContextKey]any, len(c.context)+1)
	for k, v := range c.context {
		ctx[k] = v
	}
	ctx[key] = value
	return Cause{participants: c.participants, context: ctx}
}

// Root returns the first participant, or nil for an empty cause.
func (c Cause) Root() any {
	if len(c.participants) == 0 {
		return nil
	}
	return c.participants[0]
}

func (c Cause) Len() int      { return len(c.participants) }
func (c Cause) IsEmpty() bool { return len(c.participants) == 0 && len(c.context) == 0 }

// Participants returns a copy of the participant list.
func (c Cause) Participants() []any {
	out := make([]any, len(c.participants))
	copy(out, c.participants)
	return out
}

// Context looks up a side-context entry.
func (c Cause) Context(key ContextKey) (any, bool) {
	v, ok := c.context[key]
	return v, ok
}

// ContextKeys returns the side-context keys in sorted order.
func (c Cause) ContextKeys() []ContextKey {
	keys := make([]ContextKey, 0, len(c.context))
	for k := range c.context {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Equal reports whether both causes hold the same participants and context.
func (c Cause) Equal(o Cause) bool {
	if len(c.participants) != len(o.participants) || len(c.context) != len(o.context) {
		return false
	}
	for i := range c.participants {
		if !reflect.DeepEqual(c.participants[i], o.participants[i]) {
			return false
		}
	}
	for k, v := range c.context {
		ov, ok := o.context[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

func (c Cause) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range c.participants {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v", p)
	}
	b.WriteByte(']')
	if len(c.context) > 0 {
		b.WriteString(" {")
		for i, k := range c.ContextKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, c.context[k])
		}
		b.WriteByte('}')
	}
	return b.String()
}

// First returns the first participant assignable to T.
func First[T any](c Cause) (T, bool) {
	for _, p := range c.participants {
		if v, ok := p.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// AllOf returns every participant assignable to T, in cause order.
func AllOf[T any](c Cause) []T {
	var out []T
	for _, p := range c.participants {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Compose layers causes, highest priority first. Participants are concatenated
// in layer order; for context keys present in several layers the earliest wins.
func Compose(layers ...Cause) Cause {
	n := 0
	for _, l := range layers {
		n += len(l.participants)
	}
	var out Cause
	if n > 0 {
		out.participants = make([]any, 0, n)
		for _, l := range layers {
			out.participants = append(out.participants, l.participants...)
		}
	}
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i].context {
			if out.context == nil {
				out.context = make(map[ContextKey]any)
			}
			out.context[k] = v
		}
	}
	return out
}
