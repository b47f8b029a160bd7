package pipeline

import (
	"fmt"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/world"
)

// Palette answers questions about block and item types.
type Palette interface {
	Known(typ string) bool
	IsContainer(typ string) bool
}

// DropSource lists what a block leaves behind when replaced.
type DropSource interface {
	Drops(v world.Value) []world.Value
}

// Region is an axis-aligned box, both corners inclusive.
type Region struct {
	Name string
	Min  world.Pos
	Max  world.Pos
}

func (r Region) Contains(p world.Pos) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// ItemEntity is the entity type spawned for dropped stacks.
const ItemEntity = "item"

// Noop continues without touching the transition.
func Noop() Effect {
	return Func("noop", func(*EffectContext, *Transition) Result { return Continue() })
}

// AlwaysCancel cancels every transition with reason.
func AlwaysCancel(reason string) Effect {
	return Func("cancel:"+reason, func(*EffectContext, *Transition) Result { return Cancel(reason) })
}

// RequireKnown cancels transitions to types the palette does not know.
func RequireKnown(p Palette) Effect {
	return Func("require_known", func(_ *EffectContext, t *Transition) Result {
		if t.To.IsEmpty() || p.Known(t.To.Type) {
			return Continue()
		}
		return Cancel("unknown type " + t.To.Type)
	})
}

// ProtectRegion cancels transitions inside any of regions.
func ProtectRegion(regions []Region) Effect {
	rs := append([]Region(nil), regions...)
	return Func("protect_region", func(_ *EffectContext, t *Transition) Result {
		for _, r := range rs {
			if r.Contains(t.Target.Pos) {
				return Cancel("protected region " + r.Name)
			}
		}
		return Continue()
	})
}

// DropsOnReplace spawns the drops of the replaced block as item entities.
func DropsOnReplace(src DropSource) Effect {
	return Func("drops_on_replace", func(_ *EffectContext, t *Transition) Result {
		if t.Flags.Has(SkipDrops) || t.Target.Kind != world.TargetBlock || t.From.IsEmpty() || t.From == t.To {
			return Continue()
		}
		var out []capture.SideEffect
		for _, d := range src.Drops(t.From) {
			out = append(out, capture.Spawn(world.EntitySpec{Type: ItemEntity, Pos: t.Target.Pos, Item: d}))
		}
		return Continue(out...)
	})
}

// NotifyNeighbors tells the six adjacent blocks that the target changed.
// No-op transitions still notify.
func NotifyNeighbors() Effect {
	return Func("notify_neighbors", func(_ *EffectContext, t *Transition) Result {
		if t.Flags.Has(SkipNotify) || t.Target.Kind != world.TargetBlock {
			return Continue()
		}
		ns := t.Target.Pos.Neighbors()
		out := make([]capture.SideEffect, 0, len(ns))
		for _, n := range ns {
			out = append(out, capture.Notify(n, t.Target.Pos))
		}
		return Continue(out...)
	})
}

// ExplodeRadius breaks every non-air block within radius of the target.
// The breaks are captured and run through via when materialized.
func ExplodeRadius(radius int32, via Kind) Effect {
	name := fmt.Sprintf("explode:%d", radius)
	return Func(name, func(ec *EffectContext, t *Transition) Result {
		if t.Target.Kind != world.TargetBlock {
			return Cancel("explosion needs a block target")
		}
		c := t.Target.Pos
		var out []capture.SideEffect
		r2 := radius * radius
		for dx := -radius; dx <= radius; dx++ {
			for dy := -radius; dy <= radius; dy++ {
				for dz := -radius; dz <= radius; dz++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					if dx*dx+dy*dy+dz*dz > r2 {
						continue
					}
					p := c.Add(dx, dy, dz)
					if ec.World.Get(world.Block(p)).IsEmpty() {
						continue
					}
					out = append(out, capture.Change(world.Block(p), world.Air, string(via)))
				}
			}
		}
		return Continue(out...)
	})
}

// ContainerOnReplace empties a container whose block is replaced by a
// non-container: every stack spills as an item entity and its slot is
// cleared through via.
func ContainerOnReplace(p Palette, slots int32, via Kind) Effect {
	return Func("container_on_replace", func(ec *EffectContext, t *Transition) Result {
		if t.Target.Kind != world.TargetBlock || !p.IsContainer(t.From.Type) || t.To.Type == t.From.Type {
			return Continue()
		}
		var out []capture.SideEffect
		for s := int32(0); s < slots; s++ {
			slot := world.Slot(t.Target.Pos, s)
			v := ec.World.Get(slot)
			if v.IsEmpty() {
				continue
			}
			out = append(out,
				capture.Spawn(world.EntitySpec{Type: ItemEntity, Pos: t.Target.Pos, Item: v}),
				capture.Change(slot, world.Value{}, string(via)),
			)
		}
		return Continue(out...)
	})
}

// RequireContainer cancels slot writes whose block is not a container or
// whose slot index is not below slots.
func RequireContainer(p Palette, slots int32) Effect {
	return Func("require_container", func(ec *EffectContext, t *Transition) Result {
		if t.Target.Kind != world.TargetSlot {
			return Cancel("not a slot target")
		}
		host := ec.World.Get(world.Block(t.Target.Pos))
		if !p.IsContainer(host.Type) {
			return Cancel("no container at " + t.Target.Pos.String())
		}
		if !world.SlotInRange(t.Target.Slot, slots) {
			return Cancel(fmt.Sprintf("slot %d out of range", t.Target.Slot))
		}
		return Continue()
	})
}

// StackLimit clamps slot stacks to limit items and normalizes empty stacks.
func StackLimit(limit int32) Effect {
	return Func(fmt.Sprintf("stack_limit:%d", limit), func(_ *EffectContext, t *Transition) Result {
		if t.Target.Kind != world.TargetSlot || t.To.Type == "" {
			return Continue()
		}
		switch {
		case t.To.Count < 0:
			return Cancel("negative stack size")
		case t.To.Count == 0:
			t.To = world.Value{}
		case t.To.Count > limit:
			t.To.Count = limit
		}
		return Continue()
	})
}
