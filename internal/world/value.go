package world

import "fmt"

// Pos is a block position.
type Pos struct {
	X, Y, Z int32
}

func (p Pos) Add(dx, dy, dz int32) Pos {
	return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// Neighbors returns the six face-adjacent positions (down, up, north, south, west, east).
func (p Pos) Neighbors() [6]Pos {
	return [6]Pos{
		p.Add(0, -1, 0),
		p.Add(0, 1, 0),
		p.Add(0, 0, -1),
		p.Add(0, 0, 1),
		p.Add(-1, 0, 0),
		p.Add(1, 0, 0),
	}
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// TargetKind says which kind of world state a Target addresses.
type TargetKind uint8

const (
	TargetBlock TargetKind = iota
	TargetSlot             // one slot of the container at Pos
)

func (k TargetKind) String() string {
	switch k {
	case TargetBlock:
		return "block"
	case TargetSlot:
		return "slot"
	default:
		return fmt.Sprintf("TargetKind(%d)", uint8(k))
	}
}

// Target addresses one unit of mutable world state.
type Target struct {
	Kind TargetKind
	Pos  Pos
	Slot int32
}

func Block(p Pos) Target { return Target{Kind: TargetBlock, Pos: p} }

func Slot(p Pos, slot int32) Target { return Target{Kind: TargetSlot, Pos: p, Slot: slot} }

func (t Target) String() string {
	if t.Kind == TargetSlot {
		return fmt.Sprintf("slot%s#%d", t.Pos, t.Slot)
	}
	return "block" + t.Pos.String()
}

// Value is a snapshot of one unit of world state. Values are comparable, so
// two snapshots are identical exactly when they are ==.
//
// For blocks Type is the block type and Meta its data value. For container
// slots Type is the item type and Count the stack size; the zero Value is an
// empty slot.
type Value struct {
	Type  string
	Meta  int32
	Count int32
}

const AirType = "air"

var Air = Value{Type: AirType}

// IsEmpty reports whether v is air (blocks) or an empty slot.
func (v Value) IsEmpty() bool {
	return v.Type == "" || v.Type == AirType
}

func (v Value) String() string {
	switch {
	case v.Type == "":
		return "empty"
	case v.Count > 0:
		return fmt.Sprintf("%s:%d x%d", v.Type, v.Meta, v.Count)
	default:
		return fmt.Sprintf("%s:%d", v.Type, v.Meta)
	}
}

// EntitySpec describes an entity to create when a captured spawn materializes.
type EntitySpec struct {
	Type string
	Pos  Pos
	Item Value // carried item for item entities
}

// View is read access to the world model.
type View interface {
	Get(t Target) Value
}

// Model is the mutable world model pipelines commit into.
type Model interface {
	View
	Set(t Target, v Value)
}
