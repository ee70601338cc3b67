package fiberscript

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// BinOp enumerates the binary value operators.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpStrictEq
	OpStrictNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLogicalAnd
	OpLogicalOr
	OpIn
	OpMatch
)

func (op BinOp) String() string {
	names := [...]string{"+", "-", "*", "/", "%", "==", "!=", "===", "!==", "<", "<=", ">", ">=", "&&", "||", "in", "~"}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// UnOp enumerates the unary value operators.
type UnOp uint8

const (
	OpPlus UnOp = iota
	OpNegate
	OpLogicalNot
	OpTypeof
)

func (op UnOp) String() string {
	names := [...]string{"+", "-", "!", "typeof"}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// OpError is the well-defined error class every value operator
// produces instead of panicking. The VM turns it into a runtime
// Exception carrying the instruction's source position.
type OpError struct {
	Name    string
	Message string
}

func (e *OpError) Error() string { return e.Name + ": " + e.Message }

func typeError(format string, args ...any) *OpError {
	return &OpError{Name: ExecTypeError, Message: fmt.Sprintf(format, args...)}
}

// BinaryOp evaluates a binary operator over lhs/rhs. h may be nil for
// operations that never allocate; string concatenation requires a
// heap and returns ExecHeapRequired otherwise.
func BinaryOp(h *Heap, op BinOp, lhs, rhs Value) (Value, *OpError) {
	switch op {
	case OpAdd:
		return opAdd(h, lhs, rhs)
	case OpSub:
		return numericOp(lhs, rhs, func(a, b int64) (int64, bool) { return checkedSub(a, b) }, func(a, b float64) float64 { return a - b })
	case OpMul:
		return numericOp(lhs, rhs, func(a, b int64) (int64, bool) { return checkedMul(a, b) }, func(a, b float64) float64 { return a * b })
	case OpDiv:
		return opDiv(lhs, rhs)
	case OpMod:
		return opMod(lhs, rhs)
	case OpEq:
		return Bool(looseEqual(lhs, rhs)), nil
	case OpNe:
		return Bool(!looseEqual(lhs, rhs)), nil
	case OpStrictEq:
		return Bool(strictEqual(lhs, rhs)), nil
	case OpStrictNe:
		return Bool(!strictEqual(lhs, rhs)), nil
	case OpLt:
		return compareOp(lhs, rhs, func(c int) bool { return c < 0 })
	case OpLe:
		return compareOp(lhs, rhs, func(c int) bool { return c <= 0 })
	case OpGt:
		return compareOp(lhs, rhs, func(c int) bool { return c > 0 })
	case OpGe:
		return compareOp(lhs, rhs, func(c int) bool { return c >= 0 })
	case OpLogicalAnd:
		if !lhs.Truthy() {
			return lhs, nil
		}
		return rhs, nil
	case OpLogicalOr:
		if lhs.Truthy() {
			return lhs, nil
		}
		return rhs, nil
	case OpIn:
		return opIn(lhs, rhs)
	case OpMatch:
		return opMatch(lhs, rhs)
	default:
		return Undefined, typeError("unsupported binary operator")
	}
}

// UnaryOp evaluates a unary operator over operand.
func UnaryOp(op UnOp, operand Value) (Value, *OpError) {
	switch op {
	case OpPlus:
		n, err := toNumberValue(operand)
		if err != nil {
			return Undefined, err
		}
		return n, nil
	case OpNegate:
		n, err := toNumberValue(operand)
		if err != nil {
			return Undefined, err
		}
		if n.kind == KindInteger {
			if n.i == math.MinInt64 {
				return Float(-float64(n.i)), nil
			}
			return Int(-n.i), nil
		}
		return Float(-n.f), nil
	case OpLogicalNot:
		return Bool(!operand.Truthy()), nil
	case OpTypeof:
		return NativeStr(operand.Kind().String()), nil
	default:
		return Undefined, typeError("unsupported unary operator")
	}
}

// ---- numeric coercion ----

// toNumberValue coerces Integer/Float/Boolean/Null to a numeric
// Value, preserving Integer-vs-Float.
func toNumberValue(v Value) (Value, *OpError) {
	switch v.kind {
	case KindInteger, KindFloat:
		return v, nil
	case KindBoolean:
		if v.b {
			return Int(1), nil
		}
		return Int(0), nil
	case KindNull:
		return Int(0), nil
	default:
		return Undefined, typeError("cannot convert %s to number", v.Kind())
	}
}

func checkedAdd(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func checkedSub(a, b int64) (int64, bool) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, false
	}
	return r, true
}

func checkedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

func numericOp(lhs, rhs Value, intOp func(a, b int64) (int64, bool), floatOp func(a, b float64) float64) (Value, *OpError) {
	a, err := toNumberValue(lhs)
	if err != nil {
		return Undefined, err
	}
	b, err := toNumberValue(rhs)
	if err != nil {
		return Undefined, err
	}
	if a.kind == KindInteger && b.kind == KindInteger {
		if r, ok := intOp(a.i, b.i); ok {
			return Int(r), nil
		}
		return Float(floatOp(float64(a.i), float64(b.i))), nil
	}
	return Float(floatOp(asFloat(a), asFloat(b))), nil
}

func asFloat(v Value) float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

func opAdd(h *Heap, lhs, rhs Value) (Value, *OpError) {
	if lhs.isString() && rhs.isString() {
		return concatStrings(h, lhs, rhs)
	}
	if lhs.isString() != rhs.isString() && (lhs.isString() || rhs.isString()) {
		return Undefined, typeError("cannot add string and number")
	}
	return numericOp(lhs, rhs, checkedAdd, func(a, b float64) float64 { return a + b })
}

func opDiv(lhs, rhs Value) (Value, *OpError) {
	a, err := toNumberValue(lhs)
	if err != nil {
		return Undefined, err
	}
	b, err := toNumberValue(rhs)
	if err != nil {
		return Undefined, err
	}
	if asFloat(b) == 0 {
		return Undefined, &OpError{Name: ExecDivisionByZero, Message: "division by zero"}
	}
	return Float(asFloat(a) / asFloat(b)), nil
}

func opMod(lhs, rhs Value) (Value, *OpError) {
	a, err := toNumberValue(lhs)
	if err != nil {
		return Undefined, err
	}
	b, err := toNumberValue(rhs)
	if err != nil {
		return Undefined, err
	}
	if a.kind == KindInteger && b.kind == KindInteger {
		if b.i == 0 {
			return Undefined, &OpError{Name: ExecDivisionByZero, Message: "mod by zero"}
		}
		return Int(a.i % b.i), nil
	}
	bf := asFloat(b)
	if bf == 0 {
		return Undefined, &OpError{Name: ExecDivisionByZero, Message: "mod by zero"}
	}
	return Float(math.Mod(asFloat(a), bf)), nil
}

// ---- string concatenation ----

type codeUnitView struct {
	encoding StringEncoding
	bytes    []byte
	units    []uint16
}

func viewOf(v Value) codeUnitView {
	switch v.kind {
	case KindHeapString:
		return codeUnitView{encoding: v.str.Encoding, bytes: v.str.Bytes, units: v.str.Units}
	case KindNativeString:
		scan, err := utf8Scan([]byte(v.ns))
		if err != nil || !scan.allByte {
			return codeUnitView{encoding: EncodingUTF16, units: utf8ToUTF16([]byte(v.ns))}
		}
		return codeUnitView{encoding: EncodingByte, bytes: utf8ToByteEncoding([]byte(v.ns))}
	default:
		return codeUnitView{}
	}
}

func toUTF16Units(v codeUnitView) []uint16 {
	if v.encoding == EncodingUTF16 {
		return v.units
	}
	out := make([]uint16, len(v.bytes))
	for i, b := range v.bytes {
		out[i] = uint16(b)
	}
	return out
}

// concatStrings implements string Add: byte-encoded result iff both
// operands are byte-encodable, UTF-16 otherwise; requires a heap.
func concatStrings(h *Heap, lhs, rhs Value) (Value, *OpError) {
	if h == nil {
		return Undefined, &OpError{Name: ExecHeapRequired, Message: "string concatenation requires a heap"}
	}
	a, b := viewOf(lhs), viewOf(rhs)
	if a.encoding == EncodingByte && b.encoding == EncodingByte {
		out := make([]byte, 0, len(a.bytes)+len(b.bytes))
		out = append(out, a.bytes...)
		out = append(out, b.bytes...)
		s, ok := h.NewStringBytes(out)
		if !ok {
			return Undefined, &OpError{Name: ExecOOM, Message: "allocation failed"}
		}
		return heapStringValue(s), nil
	}
	au, bu := toUTF16Units(a), toUTF16Units(b)
	out := make([]uint16, 0, len(au)+len(bu))
	out = append(out, au...)
	out = append(out, bu...)
	s, ok := h.NewStringUTF16(out)
	if !ok {
		return Undefined, &OpError{Name: ExecOOM, Message: "allocation failed"}
	}
	return heapStringValue(s), nil
}

func stringContentEqual(lhs, rhs Value) bool {
	a, b := viewOf(lhs), viewOf(rhs)
	au, bu := toUTF16Units(a), toUTF16Units(b)
	if len(au) != len(bu) {
		return false
	}
	for i := range au {
		if au[i] != bu[i] {
			return false
		}
	}
	return true
}

func stringCompare(lhs, rhs Value) int {
	a, b := toUTF16Units(viewOf(lhs)), toUTF16Units(viewOf(rhs))
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func stringGoValue(v Value) string {
	s, _ := v.AsGoString()
	return s
}

// ---- equality ----

func looseEqual(lhs, rhs Value) bool {
	if lhs.kind == rhs.kind {
		return sameKindEqual(lhs, rhs)
	}
	if (lhs.kind == KindNull && rhs.kind == KindUndefined) || (lhs.kind == KindUndefined && rhs.kind == KindNull) {
		return true
	}
	if lhs.isString() && rhs.isNumeric() {
		return looseNumericStringEqual(rhs, lhs)
	}
	if rhs.isString() && lhs.isNumeric() {
		return looseNumericStringEqual(lhs, rhs)
	}
	if lhs.isNumeric() && rhs.isNumeric() {
		return numericEqual(lhs, rhs)
	}
	return false
}

func looseNumericStringEqual(numSide, strSide Value) bool {
	n, err := toNumberValue(numSide)
	if err != nil {
		return false
	}
	f, ok := parseJSNumber(stringGoValue(strSide))
	if !ok {
		return false // NaN never equals anything
	}
	return asFloat(n) == f
}

func parseJSNumber(s string) (float64, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func numericEqual(lhs, rhs Value) bool {
	a, errA := toNumberValue(lhs)
	b, errB := toNumberValue(rhs)
	if errA != nil || errB != nil {
		return false
	}
	if a.kind == KindInteger && b.kind == KindInteger {
		return a.i == b.i
	}
	return asFloat(a) == asFloat(b)
}

func sameKindEqual(lhs, rhs Value) bool {
	switch lhs.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean:
		return lhs.b == rhs.b
	case KindInteger, KindFloat:
		return numericEqual(lhs, rhs)
	case KindNativeString, KindHeapString:
		return stringContentEqual(lhs, rhs)
	case KindNativeBinary, KindHeapBinary:
		return binaryEqual(lhs, rhs)
	case KindArray:
		return lhs.arr == rhs.arr
	case KindObject:
		return lhs.obj == rhs.obj
	case KindIterator:
		return lhs.it == rhs.it
	case KindException:
		return lhs.exc == rhs.exc
	default:
		return false
	}
}

func binaryEqual(lhs, rhs Value) bool {
	a, _ := lhs.AsGoBytes()
	b, _ := rhs.AsGoBytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func strictEqual(lhs, rhs Value) bool {
	strictKind := func(k Kind) Kind {
		switch k {
		case KindNativeString, KindHeapString:
			return KindHeapString
		case KindNativeBinary, KindHeapBinary:
			return KindHeapBinary
		default:
			return k
		}
	}
	if strictKind(lhs.kind) != strictKind(rhs.kind) {
		return false
	}
	switch lhs.kind {
	case KindNativeString, KindHeapString:
		return stringContentEqual(lhs, rhs)
	case KindNativeBinary, KindHeapBinary:
		return binaryEqual(lhs, rhs)
	case KindInteger:
		return lhs.i == rhs.i
	case KindFloat:
		return lhs.f == rhs.f
	case KindArray:
		return lhs.arr == rhs.arr
	case KindObject:
		return lhs.obj == rhs.obj
	case KindIterator:
		return lhs.it == rhs.it
	case KindException:
		return lhs.exc == rhs.exc
	default:
		return sameKindEqual(lhs, rhs)
	}
}

// ---- relational comparisons ----

func compareOp(lhs, rhs Value, pred func(int) bool) (Value, *OpError) {
	if lhs.isString() && rhs.isString() {
		return Bool(pred(stringCompare(lhs, rhs))), nil
	}
	if lhs.isNumeric() && rhs.isNumeric() {
		a, errA := toNumberValue(lhs)
		b, errB := toNumberValue(rhs)
		if errA != nil || errB != nil {
			return Undefined, typeError("cannot compare values")
		}
		if math.IsNaN(asFloat(a)) || math.IsNaN(asFloat(b)) {
			return Bool(false), nil
		}
		if a.kind == KindInteger && b.kind == KindInteger {
			return Bool(pred(intCompare(a.i, b.i))), nil
		}
		return Bool(pred(floatCompare(asFloat(a), asFloat(b)))), nil
	}
	return Undefined, typeError("cannot compare %s and %s", lhs.Kind(), rhs.Kind())
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ---- membership ('in') and match ('~') ----

func opIn(lhs, rhs Value) (Value, *OpError) {
	switch rhs.kind {
	case KindObject:
		key, err := stringKeyOf(lhs)
		if err != nil {
			return Undefined, err
		}
		_, ok := rhs.obj.Get(key)
		return Bool(ok), nil
	case KindArray:
		idx, err := toNumberValue(lhs)
		if err != nil {
			return Undefined, err
		}
		i := int64(asFloat(idx))
		return Bool(i >= 0 && i < int64(rhs.arr.Size)), nil
	default:
		return Undefined, typeError("right-hand side of 'in' must be an array or object")
	}
}

func stringKeyOf(v Value) (*HeapString, *OpError) {
	if v.kind == KindHeapString {
		return v.str, nil
	}
	if v.kind == KindNativeString {
		// Membership tests never need to allocate: a throwaway,
		// unlinked HeapString is enough to drive content comparison.
		view := viewOf(v)
		return &HeapString{Encoding: view.encoding, Bytes: view.bytes, Units: view.units}, nil
	}
	return nil, typeError("'in' key must be a string")
}

// opMatch implements the `~` operator: the right-hand operand is
// compiled as a glob pattern and matched against the left-hand string.
func opMatch(lhs, rhs Value) (Value, *OpError) {
	if !lhs.isString() || !rhs.isString() {
		return Undefined, typeError("'~' requires two strings")
	}
	pattern := stringGoValue(rhs)
	g, err := glob.Compile(pattern)
	if err != nil {
		return Undefined, typeError("invalid match pattern: %s", err.Error())
	}
	return Bool(g.Match(stringGoValue(lhs))), nil
}
