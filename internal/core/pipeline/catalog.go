package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/l1jgo/phasetrack/internal/world"
)

// Factory builds an effect from the argument after the colon of its spec,
// "" when there is none.
type Factory func(arg string) (Effect, error)

// Catalog builds effects from textual specs such as "noop" or
// "cancel:blocked", as found in pipeline definition files.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog returns a catalog knowing noop and cancel.
func NewCatalog() *Catalog {
	c := &Catalog{factories: make(map[string]Factory, 16)}
	c.Add("noop", func(string) (Effect, error) { return Noop(), nil })
	c.Add("cancel", func(arg string) (Effect, error) {
		if arg == "" {
			arg = "cancelled"
		}
		return AlwaysCancel(arg), nil
	})
	return c
}

// Add registers or replaces the factory for name.
func (c *Catalog) Add(name string, f Factory) {
	c.factories[name] = f
}

// Builtins are the collaborators the world effects need.
type Builtins struct {
	Palette    Palette
	Drops      DropSource
	Regions    []Region
	SlotCount  int32
	StackLimit int32
}

// AddBuiltins registers the world effects. Effects whose collaborator is nil
// fail to build.
func (c *Catalog) AddBuiltins(b Builtins) {
	needPalette := func(name string, mk func(Palette) Effect) Factory {
		return func(string) (Effect, error) {
			if b.Palette == nil {
				return nil, fmt.Errorf("effect %s: no palette configured", name)
			}
			return mk(b.Palette), nil
		}
	}
	c.Add("require_known", needPalette("require_known", RequireKnown))
	c.Add("require_container", needPalette("require_container", func(p Palette) Effect {
		slots := b.SlotCount
		if slots <= 0 {
			slots = world.DefaultContainerSlots
		}
		return RequireContainer(p, slots)
	}))
	c.Add("container_on_replace", func(arg string) (Effect, error) {
		if b.Palette == nil {
			return nil, fmt.Errorf("effect container_on_replace: no palette configured")
		}
		via := ContainerPut
		if arg != "" {
			via = Kind(arg)
		}
		return ContainerOnReplace(b.Palette, b.SlotCount, via), nil
	})
	c.Add("drops_on_replace", func(string) (Effect, error) {
		if b.Drops == nil {
			return nil, fmt.Errorf("effect drops_on_replace: no drop table configured")
		}
		return DropsOnReplace(b.Drops), nil
	})
	c.Add("protect_region", func(string) (Effect, error) { return ProtectRegion(b.Regions), nil })
	c.Add("notify_neighbors", func(string) (Effect, error) { return NotifyNeighbors(), nil })
	c.Add("explode", func(arg string) (Effect, error) {
		radius := int32(2)
		if arg != "" {
			n, err := strconv.ParseInt(arg, 10, 32)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("effect explode: bad radius %q", arg)
			}
			radius = int32(n)
		}
		return ExplodeRadius(radius, BreakBlock), nil
	})
	c.Add("stack_limit", func(arg string) (Effect, error) {
		limit := b.StackLimit
		if arg != "" {
			n, err := strconv.ParseInt(arg, 10, 32)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("effect stack_limit: bad limit %q", arg)
			}
			limit = int32(n)
		}
		if limit <= 0 {
			limit = 64
		}
		return StackLimit(limit), nil
	})
}

// Build returns the effect for spec ("name" or "name:arg").
func (c *Catalog) Build(spec string) (Effect, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	f, ok := c.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown effect %q", name)
	}
	e, err := f(arg)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// BuildAll builds specs in order.
func (c *Catalog) BuildAll(specs []string) ([]Effect, error) {
	out := make([]Effect, 0, len(specs))
	for _, s := range specs {
		e, err := c.Build(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Names lists known effect names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.factories))
	for n := range c.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
