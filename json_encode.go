package fiberscript

import (
	"strconv"
	"unicode/utf8"
)

// EncodeErrorKind enumerates the Encoder's error taxonomy.
type EncodeErrorKind int

const (
	EncGenerateComplete EncodeErrorKind = iota
	EncMaxDepthExceeded
	EncKeysMustBeString
	EncInvalidValue
	EncInvalidString
	EncErrorState
	EncNoBuf
)

// EncodeError is the Encoder's structured error, analogous to
// DecodeError on the read side.
type EncodeError struct {
	Kind    EncodeErrorKind
	Message string
}

func (e EncodeError) Error() string { return e.Message }

// EncoderConfig controls the Encoder's output shape. MaxDepth
// defaults to 128 when zero.
type EncoderConfig struct {
	Beauty        bool
	ValidateUtf8  bool
	EscapeSolidus bool
	MaxDepth      int
	PrintCallback func([]byte)
}

type encFrame struct {
	isObject  bool
	expectKey bool
	count     int
}

// Encoder is a streaming, stack-based JSON generator: callers drive
// it with map_open/close, array_open/close, and scalar calls exactly
// the way the original generator's API is shaped, rather than handing
// it a pre-built tree.
type Encoder struct {
	cfg     EncoderConfig
	buf     []byte
	frames  []encFrame
	done    bool
	errored bool
	err     error
}

func NewEncoder(cfg EncoderConfig) *Encoder {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 128
	}
	return &Encoder{cfg: cfg}
}

func (e *Encoder) fail(err error) error {
	e.errored = true
	e.err = err
	return err
}

func (e *Encoder) write(b []byte) {
	if e.cfg.PrintCallback != nil {
		e.cfg.PrintCallback(b)
		return
	}
	e.buf = append(e.buf, b...)
}

func (e *Encoder) writeByte(c byte) { e.write([]byte{c}) }

func (e *Encoder) writeIndent(depth int) {
	if !e.cfg.Beauty {
		return
	}
	e.writeByte('\n')
	for i := 0; i < depth; i++ {
		e.write([]byte("  "))
	}
}

// beginValue prepares the buffer for an upcoming value or key, and
// reports whether the slot being filled is an object key.
func (e *Encoder) beginValue() (isKey bool, err error) {
	if e.errored {
		return false, EncodeError{Kind: EncErrorState, Message: "encoder is in an error state"}
	}
	if e.done {
		err := EncodeError{Kind: EncGenerateComplete, Message: "generator already produced a complete value"}
		return false, e.fail(err)
	}
	if len(e.frames) == 0 {
		return false, nil
	}
	top := &e.frames[len(e.frames)-1]
	if top.isObject && top.expectKey {
		if top.count > 0 {
			e.writeByte(',')
		}
		e.writeIndent(len(e.frames))
		return true, nil
	}
	if top.isObject {
		return false, nil // value half of a pair; key already wrote ':'
	}
	if top.count > 0 {
		e.writeByte(',')
	}
	e.writeIndent(len(e.frames))
	return false, nil
}

func (e *Encoder) afterValueWritten(isKey bool) {
	if len(e.frames) == 0 {
		e.done = true
		return
	}
	top := &e.frames[len(e.frames)-1]
	if isKey {
		e.writeByte(':')
		if e.cfg.Beauty {
			e.writeByte(' ')
		}
		top.expectKey = false
		return
	}
	if top.isObject {
		top.expectKey = true
	}
	top.count++
}

func (e *Encoder) MapOpen() error {
	isKey, err := e.beginValue()
	if err != nil {
		return err
	}
	if isKey {
		return e.fail(EncodeError{Kind: EncKeysMustBeString, Message: "object key must be a string"})
	}
	if len(e.frames) >= e.cfg.MaxDepth {
		return e.fail(EncodeError{Kind: EncMaxDepthExceeded, Message: "maximum nesting depth exceeded"})
	}
	e.writeByte('{')
	e.frames = append(e.frames, encFrame{isObject: true, expectKey: true})
	return nil
}

func (e *Encoder) ArrayOpen() error {
	isKey, err := e.beginValue()
	if err != nil {
		return err
	}
	if isKey {
		return e.fail(EncodeError{Kind: EncKeysMustBeString, Message: "object key must be a string"})
	}
	if len(e.frames) >= e.cfg.MaxDepth {
		return e.fail(EncodeError{Kind: EncMaxDepthExceeded, Message: "maximum nesting depth exceeded"})
	}
	e.writeByte('[')
	e.frames = append(e.frames, encFrame{isObject: false})
	return nil
}

func (e *Encoder) MapClose() error {
	if e.errored {
		return e.err
	}
	if len(e.frames) == 0 || !e.frames[len(e.frames)-1].isObject {
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "unbalanced map_close"})
	}
	top := e.frames[len(e.frames)-1]
	if !top.expectKey {
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "map closed with a key missing its value"})
	}
	e.frames = e.frames[:len(e.frames)-1]
	if top.count > 0 {
		e.writeIndent(len(e.frames))
	}
	e.writeByte('}')
	e.afterValueWritten(false)
	return nil
}

func (e *Encoder) ArrayClose() error {
	if e.errored {
		return e.err
	}
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].isObject {
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "unbalanced array_close"})
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if top.count > 0 {
		e.writeIndent(len(e.frames))
	}
	e.writeByte(']')
	e.afterValueWritten(false)
	return nil
}

func (e *Encoder) scalar(emit func()) error {
	isKey, err := e.beginValue()
	if err != nil {
		return err
	}
	emit()
	e.afterValueWritten(isKey)
	return nil
}

// String emits a Go (UTF-8) string as a JSON string literal.
func (e *Encoder) String(s string) error {
	if e.cfg.ValidateUtf8 && !utf8.ValidString(s) {
		return e.fail(EncodeError{Kind: EncInvalidString, Message: "invalid utf-8 in string value"})
	}
	return e.scalar(func() { e.writeEscapedString(s) })
}

// HeapString emits a heap-resident string (either encoding) as a JSON
// string literal.
func (e *Encoder) HeapString(s *HeapString) error {
	return e.String(s.AsGoString())
}

func (e *Encoder) writeEscapedString(s string) {
	e.writeByte('"')
	for _, r := range s {
		switch r {
		case '"':
			e.write([]byte(`\"`))
		case '\\':
			e.write([]byte(`\\`))
		case '\b':
			e.write([]byte(`\b`))
		case '\f':
			e.write([]byte(`\f`))
		case '\n':
			e.write([]byte(`\n`))
		case '\r':
			e.write([]byte(`\r`))
		case '\t':
			e.write([]byte(`\t`))
		case '/':
			if e.cfg.EscapeSolidus {
				e.write([]byte(`\/`))
			} else {
				e.writeByte('/')
			}
		default:
			if r < 0x20 {
				e.write([]byte(`\u`))
				const hex = "0123456789abcdef"
				e.write([]byte{hex[(r>>12)&0xF], hex[(r>>8)&0xF], hex[(r>>4)&0xF], hex[r&0xF]})
			} else {
				var tmp [4]byte
				n := utf8.EncodeRune(tmp[:], r)
				e.write(tmp[:n])
			}
		}
	}
	e.writeByte('"')
}

func (e *Encoder) Integer(i int64) error {
	return e.scalar(func() { e.write([]byte(strconv.FormatInt(i, 10))) })
}

func (e *Encoder) Double(f float64) error {
	return e.scalar(func() { e.write([]byte(strconv.FormatFloat(f, 'g', -1, 64))) })
}

func (e *Encoder) Bool(b bool) error {
	return e.scalar(func() {
		if b {
			e.write([]byte("true"))
		} else {
			e.write([]byte("false"))
		}
	})
}

func (e *Encoder) Null() error {
	return e.scalar(func() { e.write([]byte("null")) })
}

// Bytes returns the accumulated output. It errors with EncNoBuf when
// a PrintCallback was configured (output was streamed out, not kept)
// or when no complete top-level value has been produced yet.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.cfg.PrintCallback != nil {
		return nil, EncodeError{Kind: EncNoBuf, Message: "encoder was configured with a print callback, nothing buffered"}
	}
	if !e.done {
		return nil, EncodeError{Kind: EncNoBuf, Message: "no complete value has been generated yet"}
	}
	return e.buf, nil
}

// EncodeValue serializes a heap Value tree to JSON in one call.
// Exceptions, iterators, undefined, and binaries have no JSON
// representation and fail with EncInvalidValue.
func EncodeValue(cfg EncoderConfig, v Value) ([]byte, error) {
	e := NewEncoder(cfg)
	if err := e.encodeAny(v); err != nil {
		return nil, err
	}
	return e.Bytes()
}

func (e *Encoder) encodeAny(v Value) error {
	switch v.Kind() {
	case KindUndefined, KindException, KindIterator:
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "value of kind " + v.Kind().String() + " cannot be encoded as JSON"})
	case KindNull:
		return e.Null()
	case KindBoolean:
		return e.Bool(v.b)
	case KindInteger:
		return e.Integer(v.i)
	case KindFloat:
		return e.Double(v.f)
	case KindNativeString:
		return e.String(v.ns)
	case KindHeapString:
		return e.HeapString(v.str)
	case KindNativeBinary, KindHeapBinary:
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "binary values cannot be encoded as JSON"})
	case KindArray:
		if err := e.ArrayOpen(); err != nil {
			return err
		}
		for i := 0; i < v.arr.Size; i++ {
			if err := e.encodeAny(v.arr.Get(i)); err != nil {
				return err
			}
		}
		return e.ArrayClose()
	case KindObject:
		if err := e.MapOpen(); err != nil {
			return err
		}
		for _, k := range v.obj.Keys() {
			if err := e.HeapString(k); err != nil {
				return err
			}
			val, _ := v.obj.Get(k)
			if err := e.encodeAny(val); err != nil {
				return err
			}
		}
		return e.MapClose()
	default:
		return e.fail(EncodeError{Kind: EncInvalidValue, Message: "unknown value kind"})
	}
}
