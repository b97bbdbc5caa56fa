package jsbridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestEvalValues(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name   string
		script string
		want   any
	}{
		{name: "number", script: "1 + 2", want: float64(3)},
		{name: "string", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "boolean", script: "3 > 2", want: true},
		{name: "null", script: "null", want: nil},
		{name: "undefined", script: "undefined", want: nil},
		{name: "array", script: "[1, 'two', [3]]", want: []any{float64(1), "two", []any{float64(3)}}},
		{name: "object", script: "({a: 1, b: {c: 'd'}})", want: map[string]any{"a": float64(1), "b": map[string]any{"c": "d"}}},
		{name: "undefined member", script: "({a: undefined})", want: map[string]any{"a": nil}},
		{name: "statements", script: "var n = 0; for (var i = 0; i < 4; i++) { n += i; } n", want: float64(6)},
		{name: "math", script: "Math.sqrt(16)", want: float64(4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Eval(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalFunctionReturnsSource(t *testing.T) {
	rt := newTestRuntime(t)

	got, err := rt.Eval("(function add(a, b) { return a + b; })")
	require.NoError(t, err)

	src, ok := got.(string)
	require.True(t, ok, "expected function source, got %T", got)
	assert.Contains(t, src, "return a + b")

	got, err = rt.Eval("({f: function () { return 1; }, n: 2})")
	require.NoError(t, err)
	obj := got.(map[string]any)
	assert.Contains(t, obj["f"], "return 1")
	assert.Equal(t, float64(2), obj["n"])
}

func TestEvalThrows(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name    string
		script  string
		message string
	}{
		{name: "error object", script: "throw new Error('boom')", message: "boom"},
		{name: "type error", script: "null.x", message: ""},
		{name: "reference error", script: "notDeclaredAnywhere", message: "notDeclaredAnywhere"},
		{name: "string throw", script: "throw 'plain'", message: "plain"},
		{name: "empty error", script: "throw new Error()", message: "Error"},
		{name: "syntax error in expression", script: "function (", message: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Eval(tt.script)
			require.Error(t, err)

			var jsErr *JSError
			require.True(t, errors.As(err, &jsErr), "expected *JSError, got %T: %v", err, err)
			assert.NotEmpty(t, jsErr.Message)
			if tt.message != "" {
				assert.Contains(t, jsErr.Message, tt.message)
			}
		})
	}
}

func TestSetGetVariableRoundTrip(t *testing.T) {
	values := []struct {
		name  string
		value any
	}{
		{name: "number", value: float64(42.5)},
		{name: "negative", value: float64(-7)},
		{name: "string", value: "héllo \"quoted\" \n line"},
		{name: "boolean", value: true},
		{name: "null", value: nil},
		{name: "array", value: []any{float64(1), "two", false, nil}},
		{name: "object", value: map[string]any{"a": float64(1), "nested": map[string]any{"list": []any{}}}},
		{name: "empty string", value: ""},
		{name: "proto key", value: map[string]any{"__proto__": map[string]any{"z": float64(1)}, "k": float64(2)}},
	}

	for _, tt := range values {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t)

			ok, err := rt.SetVariable("v", tt.value)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := rt.GetVariable("v")
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestSetVariableOverwrites(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.SetVariable("x", 1)
	require.NoError(t, err)
	_, err = rt.SetVariable("x", "second")
	require.NoError(t, err)

	got, err := rt.GetVariable("x")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestGetVariable(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Eval("var declaredOnly;")
	require.NoError(t, err)
	got, err := rt.GetVariable("declaredOnly")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = rt.GetVariable("neverDeclared")
	assert.True(t, IsJSError(err), "expected JSError, got %v", err)

	got, err = rt.GetVariable("Math.PI > 3")
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestGetVariableInto(t *testing.T) {
	rt := newTestRuntime(t)

	type point struct {
		X int    `json:"x"`
		Y int    `json:"y"`
		L string `json:"label"`
	}

	_, err := rt.SetVariable("p", point{X: 3, Y: 4, L: "corner"})
	require.NoError(t, err)

	var got point
	require.NoError(t, rt.GetVariableInto("p", &got))
	assert.Equal(t, point{X: 3, Y: 4, L: "corner"}, got)
}

func TestEvalInto(t *testing.T) {
	rt := newTestRuntime(t)

	var nums []int
	require.NoError(t, rt.EvalInto("[1, 2, 3].map(function (x) { return x * 10; })", &nums))
	assert.Equal(t, []int{10, 20, 30}, nums)

	var s string
	err := rt.EvalInto("({})", &s)
	assert.ErrorIs(t, err, ErrMarshal)
}

func TestContextRotation(t *testing.T) {
	rt := newTestRuntime(t)
	first := rt.Context()

	// call 1
	_, err := rt.SetVariable("kept", 1)
	require.NoError(t, err)

	// calls 2 to 4 run in the same context
	for i := 0; i < 3; i++ {
		got, err := rt.GetVariable("kept")
		require.NoError(t, err)
		assert.Equal(t, float64(1), got)
	}
	assert.Equal(t, 0, rt.Rotations())
	assert.Equal(t, first, rt.Context())

	// call 5 runs in a fresh context
	_, err = rt.GetVariable("kept")
	assert.True(t, IsJSError(err), "expected JSError after rotation, got %v", err)
	assert.Equal(t, 1, rt.Rotations())
	assert.NotEqual(t, first, rt.Context())
}

func TestPreambleSurvivesRotation(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Compile("function triple(x) { return x * 3; }")

	for i := 0; i < 12; i++ {
		got, err := rt.Eval("typeof triple")
		require.NoError(t, err)
		assert.Equal(t, "function", got, "call %d", i+1)
	}
	assert.Equal(t, 2, rt.Rotations())

	got, err := rt.Call("triple", 5)
	require.NoError(t, err)
	assert.Equal(t, float64(15), got)
}

func TestFailuresCountTowardsRotation(t *testing.T) {
	rt := newTestRuntime(t)

	for i := 0; i < 4; i++ {
		_, err := rt.Eval("throw new Error('no')")
		require.Error(t, err)
	}
	assert.Equal(t, 0, rt.Rotations())

	_, err := rt.Eval("1")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Rotations())
}

func TestRotationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RotateEvery = 0
	rt, err := New(cfg)
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.SetVariable("counter", 0)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := rt.Eval("counter++")
		require.NoError(t, err)
	}

	got, err := rt.GetVariable("counter")
	require.NoError(t, err)
	assert.Equal(t, float64(20), got)
	assert.Equal(t, 0, rt.Rotations())
}

func TestCall(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Compile("function greet(name, punct) { return 'hi ' + name + punct; }")

	tests := []struct {
		name       string
		identifier string
		args       []any
		want       any
	}{
		{name: "builtin", identifier: "Math.max", args: []any{1, 5, 3}, want: float64(5)},
		{name: "preamble function", identifier: "greet", args: []any{"bob", "!"}, want: "hi bob!"},
		{name: "this is the global object", identifier: "function () { return typeof this.Math; }", want: "object"},
		{name: "arrow", identifier: "(a, b) => a * b", args: []any{6, 7}, want: float64(42)},
		{name: "object argument", identifier: "Object.keys", args: []any{map[string]any{"k": 1}}, want: []any{"k"}},
		{name: "no arguments", identifier: "Math.max", want: nil},
		{name: "proto key argument", identifier: "function (o) { return o; }", args: []any{map[string]any{"__proto__": 3}}, want: map[string]any{"__proto__": float64(3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Call(tt.identifier, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallUnknownIdentifier(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Call("noSuchFunction", 1)
	assert.True(t, IsJSError(err))
}

func TestCallForEach(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Compile("function shout(s) { return s.toUpperCase(); }")

	got, err := rt.CallForEach("x => x*2", 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(4), float64(6)}, got)

	got, err = rt.CallForEach("shout", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, got)

	got, err = rt.CallForEach("parseInt", "10", "11")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(10), float64(11)}, got)

	got, err = rt.CallForEach("Object.keys", map[string]any{"__proto__": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"__proto__"}}, got)

	got, err = rt.CallForEach("shout")
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)
}

func TestMarshalRejectsUnsupportedValues(t *testing.T) {
	rt := newTestRuntime(t)

	ok, err := rt.SetVariable("c", make(chan int))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMarshal)

	_, err = rt.Call("Math.max", func() {})
	assert.ErrorIs(t, err, ErrMarshal)
}

func TestBrokenPreambleIsEngineError(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Compile("function broken( {")

	_, err := rt.Eval("1")
	var engErr *EngineError
	require.True(t, errors.As(err, &engErr), "expected *EngineError, got %T: %v", err, err)
	assert.Equal(t, ErrorCodeScriptCompile, engErr.Code)
	assert.False(t, IsJSError(err))
}

func TestSequentialEvalsDoNotLeak(t *testing.T) {
	before := LiveHandles()

	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, before+1, LiveHandles())

	for i := 0; i < 100; i++ {
		got, err := rt.Eval("1 + 1")
		require.NoError(t, err)
		assert.Equal(t, float64(2), got)
		assert.Equal(t, 1, rt.engine.LiveContexts())
	}
	assert.Equal(t, before+1, LiveHandles())
	assert.Equal(t, 20, rt.Rotations())

	require.NoError(t, rt.Close())
	assert.Equal(t, before, LiveHandles())
}

func TestClose(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = rt.Eval("1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = rt.SetVariable("x", 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, rt.Require("whatever.js"), ErrClosed)

	assert.ErrorIs(t, rt.Reset(), ErrClosed)

	rt.Compile("var late = 1;")
	assert.Len(t, rt.Preamble(), 1)
}

func TestNewUnknownEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = "spidermonkey"

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestRuntimesAreIndependent(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)

	a.Compile("function onlyInA() { return 1; }")
	_, err := a.SetVariable("shared", "a")
	require.NoError(t, err)

	got, err := b.Eval("typeof onlyInA")
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)

	got, err = b.Eval("typeof shared")
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)
	assert.Len(t, b.Preamble(), 1)
}
