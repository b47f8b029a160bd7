package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/phasetrack/internal/world"
)

// Engine wraps a single gopher-lua VM for script-defined effects and block
// rules. Single-goroutine access only (simulation loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	// view backs the world.get API while a script call is running
	view world.View
}

// NewEngine creates a Lua engine and loads every script under scriptsDir, then
// the effects/ and rules/ subdirectories.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	for _, dir := range []string{scriptsDir, filepath.Join(scriptsDir, "effects"), filepath.Join(scriptsDir, "rules")} {
		if err := e.loadDir(dir); err != nil {
			e.vm.Close()
			return nil, fmt.Errorf("load scripts %s: %w", dir, err)
		}
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	e := &Engine{vm: vm, log: log}
	e.registerWorldAPI()
	return e
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source in the engine.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// HasFunc reports whether a global Lua function named name exists.
func (e *Engine) HasFunc(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// registerWorldAPI exposes world.get(x, y, z) -> type, meta.
func (e *Engine) registerWorldAPI() {
	api := e.vm.NewTable()
	api.RawSetString("get", e.vm.NewFunction(func(L *lua.LState) int {
		p := world.Pos{X: int32(L.CheckInt(1)), Y: int32(L.CheckInt(2)), Z: int32(L.CheckInt(3))}
		v := world.Air
		if e.view != nil {
			v = e.view.Get(world.Block(p))
		}
		L.Push(lua.LString(v.Type))
		L.Push(lua.LNumber(v.Meta))
		return 2
	}))
	api.RawSetString("air", lua.LString(world.AirType))
	e.vm.SetGlobal("world", api)
}

// call invokes the global function name with args against view and returns
// its single result.
func (e *Engine) call(name string, view world.View, args ...lua.LValue) (lua.LValue, error) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return lua.LNil, fmt.Errorf("lua function %s not found", name)
	}
	e.view = view
	defer func() { e.view = nil }()
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return result, nil
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

func (e *Engine) posTable(p world.Pos) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("x", lua.LNumber(p.X))
	t.RawSetString("y", lua.LNumber(p.Y))
	t.RawSetString("z", lua.LNumber(p.Z))
	return t
}

func (e *Engine) valueTable(v world.Value) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("type", lua.LString(v.Type))
	t.RawSetString("meta", lua.LNumber(v.Meta))
	t.RawSetString("count", lua.LNumber(v.Count))
	return t
}

func tablePos(t *lua.LTable) world.Pos {
	return world.Pos{X: int32(lInt(t, "x")), Y: int32(lInt(t, "y")), Z: int32(lInt(t, "z"))}
}

func tableValue(t *lua.LTable) world.Value {
	return world.Value{Type: lStr(t, "type"), Meta: int32(lInt(t, "meta")), Count: int32(lInt(t, "count"))}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
