// Package capture describes side effects that a phase records instead of
// applying immediately.
package capture

import (
	"fmt"

	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/world"
)

// Kind is the category of a captured side effect.
type Kind uint8

const (
	SpawnEntity Kind = iota + 1
	ChangeBlock
	NotifyNeighbor
)

func (k Kind) String() string {
	switch k {
	case SpawnEntity:
		return "spawn"
	case ChangeBlock:
		return "change"
	case NotifyNeighbor:
		return "notify"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Kinds lists every capture kind in dump order.
var Kinds = [...]Kind{SpawnEntity, ChangeBlock, NotifyNeighbor}

// SideEffect is one deferred consequence of a transition.
//
// Emitter, Cause, Notifier, Owner and Tx are stamped by the pipeline when the
// effect is emitted; effects only fill the descriptive fields.
type SideEffect struct {
	Kind Kind

	// ChangeBlock: target and new value; Via names the pipeline kind the change
	// runs through when materialized.
	Target world.Target
	Value  world.Value
	Via    string

	// NotifyNeighbor: Target.Pos is notified that Source changed.
	Source world.Pos

	// SpawnEntity
	Entity world.EntitySpec

	Emitter  string
	Cause    cause.Cause
	Notifier any
	Owner    any
	Tx       int
}

// Spawn describes an entity creation.
func Spawn(spec world.EntitySpec) SideEffect {
	return SideEffect{Kind: SpawnEntity, Entity: spec, Target: world.Block(spec.Pos)}
}

// Change describes a follow-up world change run through the via pipeline.
func Change(target world.Target, v world.Value, via string) SideEffect {
	return SideEffect{Kind: ChangeBlock, Target: target, Value: v, Via: via}
}

// Notify tells the block at neighbor that source changed.
func Notify(neighbor, source world.Pos) SideEffect {
	return SideEffect{Kind: NotifyNeighbor, Target: world.Block(neighbor), Source: source}
}

func (se SideEffect) String() string {
	switch se.Kind {
	case SpawnEntity:
		return fmt.Sprintf("spawn %s at %s", se.Entity.Type, se.Entity.Pos)
	case ChangeBlock:
		return fmt.Sprintf("change %s -> %s via %s", se.Target, se.Value, se.Via)
	case NotifyNeighbor:
		return fmt.Sprintf("notify %s from %s", se.Target.Pos, se.Source)
	default:
		return se.Kind.String()
	}
}
