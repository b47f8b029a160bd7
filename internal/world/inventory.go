package world

// Container holds the item slots stored at one block position.
// Accessed only from the simulation goroutine.
type Container struct {
	Slots []Value
}

// NewContainer creates an empty container with n slots.
func NewContainer(n int32) *Container {
	return &Container{Slots: make([]Value, n)}
}

// Get returns the slot value, or an empty value when out of range.
func (c *Container) Get(slot int32) Value {
	if !c.InRange(slot) {
		return Value{}
	}
	return c.Slots[slot]
}

// Set stores v in slot. Out-of-range writes are ignored.
func (c *Container) Set(slot int32, v Value) {
	if !c.InRange(slot) {
		return
	}
	c.Slots[slot] = v
}

// Used returns the number of occupied slots.
func (c *Container) Used() int {
	n := 0
	for _, v := range c.Slots {
		if v != (Value{}) {
			n++
		}
	}
	return n
}

// IsEmpty returns true if no slot is occupied.
func (c *Container) IsEmpty() bool {
	return c.Used() == 0
}

// InRange reports whether slot addresses a slot of c.
func (c *Container) InRange(slot int32) bool {
	return SlotInRange(slot, int32(len(c.Slots)))
}

// SlotInRange reports whether slot addresses one of n container slots.
func SlotInRange(slot, n int32) bool {
	return slot >= 0 && slot < n
}
