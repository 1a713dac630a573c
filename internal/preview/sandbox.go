package preview

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"widget-studio/internal/editor"
)

// chunkName is the source name of the behaviour script inside the VM.
// Runtime errors are prefixed with it and the line number.
const chunkName = "controller"

// arrayMarker tags empty tables that came from JSON arrays.
const arrayMarker = "__array"

var runtimePosRe = regexp.MustCompile(`(?s)^` + chunkName + `:(\d+): (.*)$`)

// newSandbox creates a VM with only the safe standard libraries.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		RegistrySize:        2048,
		RegistryGrowStep:    32,
		MinimizeStackMemory: true,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// compile parses and compiles a behaviour script.
func compile(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return proto, nil
}

// faultFrom describes err the way a preview reports a script fault.
func faultFrom(err error) editor.FaultOrigin {
	var perr *parse.Error
	if errors.As(err, &perr) {
		return editor.FaultOrigin{
			Name:         "SyntaxError",
			Message:      perr.Message,
			LineNumber:   perr.Pos.Line,
			ColumnNumber: perr.Pos.Column,
		}
	}
	var cerr *lua.CompileError
	if errors.As(err, &cerr) {
		return editor.FaultOrigin{Name: "SyntaxError", Message: cerr.Message, LineNumber: cerr.Line}
	}
	var aerr *lua.ApiError
	if errors.As(err, &aerr) {
		msg := aerr.Error()
		if aerr.Object != nil {
			msg = aerr.Object.String()
		}
		if m := runtimePosRe.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return editor.FaultOrigin{Name: "RuntimeError", Message: m[2], LineNumber: line}
		}
		return editor.FaultOrigin{Name: "RuntimeError", Message: msg}
	}
	return editor.FaultOrigin{Name: "Error", Message: err.Error()}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		if len(val) == 0 {
			mt := L.NewTable()
			mt.RawSetString(arrayMarker, lua.LTrue)
			t.Metatable = mt
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to its JSON-compatible Go form. Tables with
// a sequence part become slices; other tables become maps.
func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if mt, ok := v.Metatable.(*lua.LTable); ok && mt.RawGetString(arrayMarker) == lua.LTrue && v.Len() == 0 {
			return []any{}
		}
		if n := v.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			m[key.String()] = luaToGo(val)
		})
		return m
	default:
		return v.String()
	}
}
