package fiberlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiberscript/fiberscript"
)

func run(t *testing.T, src string) (fiberscript.Value, error) {
	t.Helper()
	cfg := fiberscript.NewConfig()
	lib := New().Build(cfg)
	script, err := fiberscript.CompileSource([]byte(src), lib, cfg)
	require.NoError(t, err)
	heap := fiberscript.NewHeap(cfg)
	return script.ExecSync(heap, lib, cfg, fiberscript.Undefined, nil)
}

func TestFiberlib_MathFunctions(t *testing.T) {
	v, err := run(t, "return abs(-3);")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v.AsFloat(), 1e-9)

	v, err = run(t, "return floor(3.7);")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.AsInt())

	v, err = run(t, "return pow(2, 10);")
	require.NoError(t, err)
	assert.InDelta(t, 1024.0, v.AsFloat(), 1e-9)

	v, err = run(t, "return PI;")
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, v.AsFloat(), 1e-4)
}

func TestFiberlib_StringFunctions(t *testing.T) {
	v, err := run(t, `return upper("hi");`)
	require.NoError(t, err)
	s, ok := v.AsGoString()
	require.True(t, ok)
	assert.Equal(t, "HI", s)

	v, err = run(t, `return concat("a", "b", "c");`)
	require.NoError(t, err)
	s, _ = v.AsGoString()
	assert.Equal(t, "abc", s)
}

func TestFiberlib_Sum(t *testing.T) {
	v, err := run(t, "return sum(1, 2, 3.5);")
	require.NoError(t, err)
	assert.InDelta(t, 6.5, v.AsFloat(), 1e-9)
}

func TestFiberlib_JSONRoundTrip(t *testing.T) {
	v, err := run(t, `return json_decode(json_encode(42));`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.AsInt())
}

func TestFiberlib_LogDirective(t *testing.T) {
	_, err := run(t, `directive log = Logger; log.info("hello"); return 1;`)
	require.NoError(t, err)
}

func TestFiberlib_AsyncSleep(t *testing.T) {
	cfg := fiberscript.NewConfig()
	lib := New().Build(cfg)
	script, err := fiberscript.CompileSource([]byte("sleep(1); return 7;"), lib, cfg)
	require.NoError(t, err)
	require.True(t, script.Compiled().ContainsAsync)

	heap := fiberscript.NewHeap(cfg)
	wait := script.ExecAsync(heap, lib, cfg, fiberscript.SyncScheduler{}, fiberscript.Undefined, nil)
	v, err := wait()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.AsInt())
}

func TestFiberlib_NowMsAsyncConstant(t *testing.T) {
	cfg := fiberscript.NewConfig()
	lib := New().Build(cfg)
	// now_ms is an AsyncConstant, resolved by bare name, not a call.
	script, err := fiberscript.CompileSource([]byte("return now_ms;"), lib, cfg)
	require.NoError(t, err)
	heap := fiberscript.NewHeap(cfg)
	wait := script.ExecAsync(heap, lib, cfg, fiberscript.SyncScheduler{}, fiberscript.Undefined, nil)
	v, err := wait()
	require.NoError(t, err)
	assert.Equal(t, fiberscript.KindInteger, v.Kind())
}
