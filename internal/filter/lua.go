package filter

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

var ErrNoFilterFunction = errors.New("filter: script does not define a filter(x) function")

// LuaFilter runs a user script defining `filter(x)` and optionally `reset()`.
// The script sees the sampling rate as the global `sampling_rate` and only the base, table,
// string and math libraries, without file loading.
//
// A failing call passes the sample through unchanged; the first failure of a run is logged.
type LuaFilter struct {
	state  *lua.LState
	fn     lua.LValue
	reset  lua.LValue
	logger *zap.Logger
	failed bool
}

func NewLuaFilter(source string, samplingRate float64, logger *zap.Logger) (*LuaFilter, error) {
	L := newSandbox()
	L.SetGlobal("sampling_rate", lua.LNumber(samplingRate))

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("load filter script: %w", err)
	}

	fn := L.GetGlobal("filter")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, ErrNoFilterFunction
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &LuaFilter{
		state:  L,
		fn:     fn,
		reset:  L.GetGlobal("reset"),
		logger: logger,
	}, nil
}

func (f *LuaFilter) Reset() {
	f.failed = false
	if f.reset.Type() != lua.LTFunction {
		return
	}

	if err := f.state.CallByParam(lua.P{Fn: f.reset, NRet: 0, Protect: true}); err != nil {
		f.logger.Warn("[filter] lua reset failed", zap.Error(err))
	}
}

func (f *LuaFilter) Apply(sample float64) float64 {
	err := f.state.CallByParam(lua.P{Fn: f.fn, NRet: 1, Protect: true}, lua.LNumber(sample))
	if err != nil {
		f.fail(err)
		return sample
	}

	ret := f.state.Get(-1)
	f.state.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		f.fail(fmt.Errorf("filter returned %s, expected a number", ret.Type()))
		return sample
	}
	return float64(n)
}

func (f *LuaFilter) fail(err error) {
	if f.failed {
		return
	}
	f.failed = true
	f.logger.Warn("[filter] lua filter failed, passing samples through", zap.Error(err))
}

func (f *LuaFilter) Close() {
	f.state.Close()
}

// newSandbox opens a state without the os, io, package and debug libraries.
func newSandbox() *lua.LState {
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
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
