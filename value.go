package fiberscript

import (
	"fmt"
	"math"
)

// Kind is the tag of the Value sum type.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindInteger
	KindFloat
	KindNativeString
	KindHeapString
	KindNativeBinary
	KindHeapBinary
	KindArray
	KindObject
	KindIterator
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindNativeString, KindHeapString:
		return "string"
	case KindNativeBinary, KindHeapBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindIterator:
		return "iterator"
	case KindException:
		return "exception"
	default:
		return "unknown"
	}
}

// Value is a tagged sum type with shallow copy semantics: copying a
// Value that carries an Array/Object/Iterator/Exception/HeapString/
// HeapBinary handle copies only the pointer, never the heap entity it
// refers to.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	ns   string // NativeString: borrowed UTF-8 view
	nb   []byte // NativeBinary: borrowed byte view
	str  *HeapString
	bin  *HeapBinary
	arr  *HeapArray
	obj  *HeapObject
	it   *HeapIterator
	exc  *HeapException
}

func (v Value) Kind() Kind { return v.kind }

var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, b: true}
	False     = Value{kind: KindBoolean, b: false}
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Int(i int64) Value       { return Value{kind: KindInteger, i: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func NativeStr(s string) Value { return Value{kind: KindNativeString, ns: s} }
func NativeBin(b []byte) Value { return Value{kind: KindNativeBinary, nb: b} }

func heapStringValue(s *HeapString) Value { return Value{kind: KindHeapString, str: s} }
func heapBinaryValue(b *HeapBinary) Value { return Value{kind: KindHeapBinary, bin: b} }
func heapArrayValue(a *HeapArray) Value   { return Value{kind: KindArray, arr: a} }
func heapObjectValue(o *HeapObject) Value { return Value{kind: KindObject, obj: o} }
func heapIteratorValue(it *HeapIterator) Value { return Value{kind: KindIterator, it: it} }
func heapExceptionValue(e *HeapException) Value { return Value{kind: KindException, exc: e} }

// IsHeapManaged reports whether v holds a handle into the GC heap.
func (v Value) IsHeapManaged() bool {
	switch v.kind {
	case KindHeapString, KindHeapBinary, KindArray, KindObject, KindIterator, KindException:
		return true
	default:
		return false
	}
}

// gcObject returns the heap entity the value refers to, or nil for
// primitives and borrowed (Native*) values.
func (v Value) gcObject() gcObject {
	switch v.kind {
	case KindHeapString:
		return v.str
	case KindHeapBinary:
		return v.bin
	case KindArray:
		return v.arr
	case KindObject:
		return v.obj
	case KindIterator:
		return v.it
	case KindException:
		return v.exc
	default:
		return nil
	}
}

// Truthy reports JS-like truthiness: Undefined, Null, false, 0,
// NaN, empty strings and empty binaries are falsy; everything else,
// including empty arrays/objects, is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i != 0
	case KindFloat:
		return v.f != 0 && !math.IsNaN(v.f)
	case KindNativeString:
		return len(v.ns) > 0
	case KindHeapString:
		return v.str.Len() > 0
	case KindNativeBinary:
		return len(v.nb) > 0
	case KindHeapBinary:
		return len(v.bin.Data) > 0
	default:
		return true
	}
}

// AsGoString decodes any string-kinded Value into a Go (UTF-8) string
// for host-facing use (logging, native function arguments, etc).
func (v Value) AsGoString() (string, bool) {
	switch v.kind {
	case KindNativeString:
		return v.ns, true
	case KindHeapString:
		return v.str.AsGoString(), true
	default:
		return "", false
	}
}

// AsGoBytes decodes any binary-kinded Value into a borrowed byte
// slice.
func (v Value) AsGoBytes() ([]byte, bool) {
	switch v.kind {
	case KindNativeBinary:
		return v.nb, true
	case KindHeapBinary:
		return v.bin.Data, true
	default:
		return nil, false
	}
}

// AsInt returns the raw int64 payload of an Integer value; the
// caller must check Kind() first.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the raw float64 payload of a Float value; the
// caller must check Kind() first.
func (v Value) AsFloat() float64 { return v.f }

// HeapStringValue wraps a heap-allocated string into a Value, for
// host Library functions that allocate their return value directly
// via Heap.NewString rather than going through an operator.
func HeapStringValue(s *HeapString) Value { return heapStringValue(s) }

func (v Value) isString() bool { return v.kind == KindNativeString || v.kind == KindHeapString }
func (v Value) isBinary() bool { return v.kind == KindNativeBinary || v.kind == KindHeapBinary }
func (v Value) isNumeric() bool {
	switch v.kind {
	case KindInteger, KindFloat, KindBoolean, KindNull:
		return true
	default:
		return false
	}
}

// Debug renders a Value for diagnostics; it is not the JSON encoding.
func (v Value) Debug() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindNativeString:
		return fmt.Sprintf("%q", v.ns)
	case KindHeapString:
		return fmt.Sprintf("%q", v.str.AsGoString())
	case KindNativeBinary:
		return fmt.Sprintf("binary(%d)", len(v.nb))
	case KindHeapBinary:
		return fmt.Sprintf("binary(%d)", len(v.bin.Data))
	case KindArray:
		return fmt.Sprintf("array(%d)", v.arr.Size)
	case KindObject:
		return fmt.Sprintf("object(%d)", v.obj.count())
	case KindIterator:
		return "iterator"
	case KindException:
		return fmt.Sprintf("exception(%s)", v.exc.Name.Debug())
	default:
		return "?"
	}
}
