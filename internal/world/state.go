package world

import (
	"github.com/l1jgo/phasetrack/internal/core/ecs"
)

// State is the shared world model: blocks, containers and entities.
// Single-goroutine access only (simulation loop), no locks.
type State struct {
	blocks     map[Pos]Value
	containers map[Pos]*Container
	slotCount  int32

	entities *ecs.World
	position *ecs.PtrComponentStore[EntityPos]
	info     *ecs.PtrComponentStore[EntityInfo]
	grid     *EntityGrid

	ticks tickQueue
}

// DefaultContainerSlots is used when NewState is given a non-positive slot count.
const DefaultContainerSlots = 27

func NewState(slotCount int32) *State {
	if slotCount <= 0 {
		slotCount = DefaultContainerSlots
	}
	s := &State{
		blocks:     make(map[Pos]Value, 1024),
		containers: make(map[Pos]*Container),
		slotCount:  slotCount,
		entities:   ecs.NewWorld(),
		position:   ecs.NewPtrComponentStore[EntityPos](),
		info:       ecs.NewPtrComponentStore[EntityInfo](),
		grid:       NewEntityGrid(),
	}
	s.entities.Attach(s.position)
	s.entities.Attach(s.info)
	s.entities.Attach(s.grid)
	return s
}

// Get returns the value at t. Unset blocks read as air, unset slots as empty.
func (s *State) Get(t Target) Value {
	switch t.Kind {
	case TargetSlot:
		c := s.containers[t.Pos]
		if c == nil {
			return Value{}
		}
		return c.Get(t.Slot)
	default:
		if v, ok := s.blocks[t.Pos]; ok {
			return v
		}
		return Air
	}
}

// Set replaces the value at t. Setting a block to air forgets the cell; slot
// writes outside the container's range are ignored.
func (s *State) Set(t Target, v Value) {
	switch t.Kind {
	case TargetSlot:
		c := s.containers[t.Pos]
		if c == nil {
			if v == (Value{}) {
				return
			}
			c = NewContainer(s.slotCount)
			s.containers[t.Pos] = c
		}
		c.Set(t.Slot, v)
		if c.IsEmpty() {
			delete(s.containers, t.Pos)
		}
	default:
		if v.IsEmpty() {
			delete(s.blocks, t.Pos)
			return
		}
		s.blocks[t.Pos] = v
	}
}

// BlockCount returns the number of non-air cells.
func (s *State) BlockCount() int { return len(s.blocks) }

// Container returns the container at p, or nil if it holds nothing.
func (s *State) Container(p Pos) *Container { return s.containers[p] }

// SlotCount returns the slot count of every container.
func (s *State) SlotCount() int32 { return s.slotCount }
