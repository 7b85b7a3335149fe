package post

import (
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// hookFunc is the global the script must define:
//
//	function transform(path, text)
//	  return text
//	end
//
// Returning nil, or the input unchanged, leaves the text alone.
const hookFunc = "transform"

// Hook runs a user Lua script against formatted text. States are
// sandboxed: only the base, table, string and math libraries are
// opened, so scripts cannot reach the filesystem, network or
// subprocesses. An LState is not goroutine-safe, so Hook keeps a pool
// of them and each Apply call checks one out for its duration.
type Hook struct {
	path   string
	src    string
	states sync.Pool
}

// LoadHook reads and validates a hook script. The script is compiled
// once up front so a syntax error or missing transform function fails
// the run before any file is touched.
func LoadHook(path string) (*Hook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lua hook: %w", err)
	}
	h := &Hook{path: path, src: string(data)}
	h.states.New = func() any {
		L, err := h.newState()
		if err != nil {
			return err
		}
		return L
	}

	// Validation state; kept for reuse.
	L, err := h.newState()
	if err != nil {
		return nil, err
	}
	h.states.Put(L)
	return h, nil
}

// newState builds a sandboxed LState with the script loaded.
func (h *Hook) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// No loading code from disk or strings at runtime.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := L.DoString(h.src); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua hook %s: %w", h.path, err)
	}
	if _, ok := L.GetGlobal(hookFunc).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("lua hook %s: no %s function defined", h.path, hookFunc)
	}
	return L, nil
}

// Apply runs transform(path, text) and returns the resulting text.
func (h *Hook) Apply(path string, text []byte) ([]byte, error) {
	v := h.states.Get()
	if err, ok := v.(error); ok {
		return nil, err
	}
	L := v.(*lua.LState)

	fn := L.GetGlobal(hookFunc)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(path), lua.LString(text)); err != nil {
		// A failed call can leave the state dirty; discard it.
		L.Close()
		return nil, fmt.Errorf("lua hook %s: %w", h.path, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	h.states.Put(L)

	switch out := ret.(type) {
	case lua.LString:
		return []byte(out), nil
	case *lua.LNilType:
		return text, nil
	default:
		return nil, fmt.Errorf("lua hook %s: %s returned %s, want string or nil",
			h.path, hookFunc, ret.Type())
	}
}
