package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/world"
)

// Change is one block update requested by a tick rule.
type Change struct {
	Pos   world.Pos
	Value world.Value
}

// EvaluateTick runs the block rule fn for the block at p. The rule receives
// {x, y, z, type, meta} and returns nil or a list of {dx, dy, dz, type, meta}
// changes relative to p.
func (e *Engine) EvaluateTick(fn string, view world.View, p world.Pos) []Change {
	v := view.Get(world.Block(p))
	arg := e.posTable(p)
	arg.RawSetString("type", lua.LString(v.Type))
	arg.RawSetString("meta", lua.LNumber(v.Meta))

	ret, err := e.call(fn, view, arg)
	if err != nil {
		e.log.Error("lua tick rule error", zap.String("func", fn), zap.Stringer("pos", p), zap.Error(err))
		return nil
	}
	list, ok := ret.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []Change
	list.ForEach(func(_, item lua.LValue) {
		t, ok := item.(*lua.LTable)
		if !ok {
			return
		}
		out = append(out, Change{
			Pos:   p.Add(int32(lInt(t, "dx")), int32(lInt(t, "dy")), int32(lInt(t, "dz"))),
			Value: world.Value{Type: lStr(t, "type"), Meta: int32(lInt(t, "meta"))},
		})
	})
	return out
}
