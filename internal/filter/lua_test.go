package filter

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zaptest"
)

const averageScript = `
local previous = 0

function reset()
	previous = 0
end

function filter(x)
	local y = (x + previous) / 2
	previous = x
	return y
end
`

func TestLuaFilter_Stateful(t *testing.T) {
	f, err := NewLuaFilter(averageScript, rate, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	defer f.Close()

	if got := f.Apply(2); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
	if got := f.Apply(4); got != 3 {
		t.Errorf("expected 3, got %f", got)
	}

	f.Reset()
	if got := f.Apply(2); got != 1 {
		t.Errorf("expected reset state, got %f", got)
	}
}

func TestLuaFilter_SamplingRateGlobal(t *testing.T) {
	f, err := NewLuaFilter("function filter(x) return sampling_rate end", rate, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	defer f.Close()

	if got := f.Apply(0); got != rate {
		t.Errorf("expected %d, got %f", rate, got)
	}
}

func TestLuaFilter_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewLuaFilter("x = ", rate, logger); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewLuaFilter("y = 1", rate, logger); !errors.Is(err, ErrNoFilterFunction) {
		t.Errorf("expected ErrNoFilterFunction, got %v", err)
	}

	f, err := NewLuaFilter(`function filter(x) error("boom") end`, rate, logger)
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	defer f.Close()
	if got := f.Apply(1.5); got != 1.5 {
		t.Errorf("expected failing filter to pass the sample through, got %f", got)
	}

	g, err := NewLuaFilter(`function filter(x) return "nope" end`, rate, logger)
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	defer g.Close()
	if got := g.Apply(-3); got != -3 {
		t.Errorf("expected non numeric result to pass the sample through, got %f", got)
	}
}

func TestLuaFilter_Sandbox(t *testing.T) {
	testCases := []struct {
		name   string
		global string
		want   lua.LValueType
	}{
		{"os", "os", lua.LTNil},
		{"io", "io", lua.LTNil},
		{"require", "require", lua.LTNil},
		{"dofile", "dofile", lua.LTNil},
		{"math", "math", lua.LTTable},
		{"string", "string", lua.LTTable},
		{"table", "table", lua.LTTable},
		{"pairs", "pairs", lua.LTFunction},
	}

	f, err := NewLuaFilter("function filter(x) return math.abs(x) end", rate, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	defer f.Close()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.state.GetGlobal(tc.global).Type(); got != tc.want {
				t.Errorf("expected %s to be %s, got %s", tc.global, tc.want, got)
			}
		})
	}

	if got := f.Apply(-3); got != 3 {
		t.Errorf("expected 3, got %f", got)
	}
	if _, err := NewLuaFilter("os.exit(1)\nfunction filter(x) return x end", rate, zaptest.NewLogger(t)); err == nil {
		t.Error("expected scripts to have no os library")
	}
}
