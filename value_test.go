package fiberscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_Truthy(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected bool
	}{
		{"undefined", Undefined, false},
		{"null", Null, false},
		{"false", False, false},
		{"true", True, true},
		{"zero int", Int(0), false},
		{"nonzero int", Int(1), true},
		{"negative int", Int(-1), true},
		{"zero float", Float(0), false},
		{"nan float", Float(nan()), false},
		{"nonzero float", Float(1.5), true},
		{"empty string", NativeStr(""), false},
		{"nonempty string", NativeStr("x"), true},
		{"empty binary", NativeBin(nil), false},
		{"nonempty binary", NativeBin([]byte{0}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.value.Truthy())
		})
	}
}

func nan() float64 {
	var f float64
	return f / f
}

func TestValue_Kind(t *testing.T) {
	assert.Equal(t, KindInteger, Int(3).Kind())
	assert.Equal(t, KindFloat, Float(3).Kind())
	assert.Equal(t, KindBoolean, True.Kind())
	assert.Equal(t, KindNativeString, NativeStr("a").Kind())
}

func TestValue_AsGoString(t *testing.T) {
	s, ok := NativeStr("hi").AsGoString()
	assert.True(t, ok)
	assert.Equal(t, "hi", s)

	_, ok = Int(1).AsGoString()
	assert.False(t, ok)
}

func TestValue_IsHeapManaged(t *testing.T) {
	h := NewHeap(NewConfig())
	arr := h.NewArray(0)
	assert.True(t, heapArrayValue(arr).IsHeapManaged())
	assert.False(t, Int(1).IsHeapManaged())
	assert.False(t, NativeStr("x").IsHeapManaged())
}
