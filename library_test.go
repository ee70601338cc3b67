package fiberscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_BuildsLookupTables(t *testing.T) {
	b := NewBuilder()
	b.AddFunction("f", func(ctx ExecutionContext, args []Value) (Value, error) { return Int(1), nil })
	b.AddAsyncFunction("af", func(ctx ExecutionContext, args []Value) (Value, error) { return Int(2), nil })
	b.AddConstant("c", func(ctx ExecutionContext) (Value, error) { return Int(3), nil })
	b.AddAsyncConstant("ac", func(ctx ExecutionContext) (Value, error) { return Int(4), nil })
	b.AddDirective("d", func(args []Node) error { return nil })
	lib := b.Build(NewConfig())

	_, ok := lib.LookupFunction("f")
	assert.True(t, ok)
	_, ok = lib.LookupAsyncFunction("af")
	assert.True(t, ok)
	_, ok = lib.LookupConstant("c")
	assert.True(t, ok)
	_, ok = lib.LookupAsyncConstant("ac")
	assert.True(t, ok)
	_, ok = lib.LookupDirective("d")
	assert.True(t, ok)

	_, ok = lib.LookupFunction("missing")
	assert.False(t, ok)
}

func TestLibrary_Resolve_Kinds(t *testing.T) {
	b := NewBuilder()
	b.AddFunction("f", func(ctx ExecutionContext, args []Value) (Value, error) { return Undefined, nil })
	b.AddAsyncFunction("af", func(ctx ExecutionContext, args []Value) (Value, error) { return Undefined, nil })
	b.AddConstant("c", func(ctx ExecutionContext) (Value, error) { return Undefined, nil })
	b.AddAsyncConstant("ac", func(ctx ExecutionContext) (Value, error) { return Undefined, nil })
	lib := b.Build(NewConfig())

	assert.Equal(t, ResFunction, lib.Resolve("f"))
	assert.Equal(t, ResAsyncFunction, lib.Resolve("af"))
	assert.Equal(t, ResConstant, lib.Resolve("c"))
	assert.Equal(t, ResAsyncConstant, lib.Resolve("ac"))
	assert.Equal(t, ResNone, lib.Resolve("nope"))
}

// TestLibrary_Resolve_CacheCoherency exercises resolution-cache
// coherency: repeated Resolve calls for the same name return the same
// classification regardless of whether the cache is warm, and
// enabling the cache never changes the answer a fresh (uncached)
// resolution would have given.
func TestLibrary_Resolve_CacheCoherency(t *testing.T) {
	build := func(cacheEnabled bool) Library {
		b := NewBuilder()
		b.AddFunction("f", func(ctx ExecutionContext, args []Value) (Value, error) { return Undefined, nil })
		cfg := NewConfig()
		cfg.SetBool("vm.resolution_cache", cacheEnabled)
		return b.Build(cfg)
	}

	cached := build(true)
	uncached := build(false)

	for _, name := range []string{"f", "g", "f", "g", "f"} {
		require.Equal(t, uncached.Resolve(name), cached.Resolve(name), "name=%s", name)
	}
}

func TestLibrary_Resolve_CacheSizeZeroFallsBackToDefault(t *testing.T) {
	b := NewBuilder()
	b.AddFunction("f", func(ctx ExecutionContext, args []Value) (Value, error) { return Undefined, nil })
	cfg := NewConfig()
	cfg.SetInt("vm.resolution_cache_size", 0)
	lib := b.Build(cfg)
	assert.Equal(t, ResFunction, lib.Resolve("f"))
}
