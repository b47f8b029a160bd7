package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/core/capture"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	"github.com/l1jgo/phasetrack/internal/world"
)

// Effect returns a pipeline effect backed by the Lua function fn.
//
// fn receives {kind, phase, target = {x, y, z, slot, is_slot}, from, to} and
// returns nil to continue unchanged, or a table with any of:
//
//	cancel = "reason"
//	to     = {type, meta, count}
//	emit   = { {kind = "spawn", type, x, y, z, item = {...}},
//	           {kind = "change", x, y, z, type, meta, via},
//	           {kind = "notify", x, y, z, from = {x, y, z}} }
//
// A script error cancels the transition.
func (e *Engine) Effect(fn string) pipeline.Effect {
	return pipeline.Func("lua:"+fn, func(ec *pipeline.EffectContext, t *pipeline.Transition) pipeline.Result {
		arg := e.vm.NewTable()
		arg.RawSetString("kind", lua.LString(t.Kind))
		arg.RawSetString("phase", lua.LString(ec.Phase.String()))
		target := e.posTable(t.Target.Pos)
		target.RawSetString("slot", lua.LNumber(t.Target.Slot))
		target.RawSetString("is_slot", lua.LBool(t.Target.Kind == world.TargetSlot))
		arg.RawSetString("target", target)
		arg.RawSetString("from", e.valueTable(t.From))
		arg.RawSetString("to", e.valueTable(t.To))

		ret, err := e.call(fn, ec.World, arg)
		if err != nil {
			e.log.Error("lua effect error", zap.String("func", fn), zap.Error(err))
			return pipeline.Cancel("script error in " + fn)
		}
		rt, ok := ret.(*lua.LTable)
		if !ok {
			return pipeline.Continue()
		}
		if reason := lStr(rt, "cancel"); reason != "" {
			return pipeline.Cancel(reason)
		}
		if to, ok := rt.RawGetString("to").(*lua.LTable); ok {
			t.To = tableValue(to)
		}
		emitted, err := e.sideEffects(rt.RawGetString("emit"), t.Target.Pos)
		if err != nil {
			e.log.Error("lua effect emitted bad side effect", zap.String("func", fn), zap.Error(err))
			return pipeline.Cancel("script error in " + fn)
		}
		return pipeline.Continue(emitted...)
	})
}

// EffectFactory builds "lua:<fn>" effects for the pipeline catalog.
func (e *Engine) EffectFactory(arg string) (pipeline.Effect, error) {
	if arg == "" {
		return nil, fmt.Errorf("effect lua: missing function name")
	}
	if !e.HasFunc(arg) {
		return nil, fmt.Errorf("effect lua: function %s not defined", arg)
	}
	return e.Effect(arg), nil
}

func (e *Engine) sideEffects(v lua.LValue, origin world.Pos) ([]capture.SideEffect, error) {
	list, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	var out []capture.SideEffect
	var bad error
	list.ForEach(func(_, item lua.LValue) {
		if bad != nil {
			return
		}
		t, ok := item.(*lua.LTable)
		if !ok {
			bad = fmt.Errorf("emit entry is %s, want table", item.Type())
			return
		}
		p := tablePos(t)
		switch kind := lStr(t, "kind"); kind {
		case "spawn":
			spec := world.EntitySpec{Type: lStr(t, "type"), Pos: p}
			if it, ok := t.RawGetString("item").(*lua.LTable); ok {
				spec.Item = tableValue(it)
			}
			out = append(out, capture.Spawn(spec))
		case "change":
			via := lStr(t, "via")
			if via == "" {
				via = string(pipeline.SetBlock)
			}
			out = append(out, capture.Change(world.Block(p), tableValue(t), via))
		case "notify":
			src := origin
			if from, ok := t.RawGetString("from").(*lua.LTable); ok {
				src = tablePos(from)
			}
			out = append(out, capture.Notify(p, src))
		default:
			bad = fmt.Errorf("unknown side effect kind %q", kind)
		}
	})
	return out, bad
}
