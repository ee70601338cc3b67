package fiberscript

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// GcKind tags which concrete heap entity a GcHeader belongs to.
type GcKind uint8

const (
	GcKindString GcKind = iota
	GcKindArray
	GcKindObject
	GcKindException
	GcKindIterator
	GcKindBinary
)

// GcHeader is embedded as the first field of every heap-managed
// entity. mark flips between false/true every
// collection cycle so sweeping never needs to reset it up front.
type GcHeader struct {
	next gcObject
	mark bool
	kind GcKind
	size uint32
}

// gcObject is implemented by every heap entity. trace marks the
// values (and, transitively, the heap entities) an entity directly
// references; it never recurses into already-marked entities — the
// caller (markQueue.drain) is responsible for the worklist.
type gcObject interface {
	gcHeader() *GcHeader
	gcTrace(mark bool, mq *markQueue)
	gcFree()
}

// StringEncoding selects between the two HeapString storage forms.
type StringEncoding uint8

const (
	EncodingByte StringEncoding = iota
	EncodingUTF16
)

// HeapString is a GC-managed string with dual byte/UTF-16 encoding.
// Len is always measured in code units, never bytes.
type HeapString struct {
	hdr      GcHeader
	Encoding StringEncoding
	Bytes    []byte   // occupied iff Encoding == EncodingByte
	Units    []uint16 // occupied iff Encoding == EncodingUTF16
	hash     uint64
	hashed   bool
}

func (s *HeapString) gcHeader() *GcHeader { return &s.hdr }
func (s *HeapString) gcTrace(bool, *markQueue) {}
func (s *HeapString) gcFree() {
	s.Bytes = nil
	s.Units = nil
}

// Len returns the code-unit length of the string.
func (s *HeapString) Len() int {
	if s.Encoding == EncodingByte {
		return len(s.Bytes)
	}
	return len(s.Units)
}

// CodeUnit returns the i-th code unit as a rune-sized value (0..0xFF
// for byte encoding, 0..0xFFFF for UTF-16 encoding).
func (s *HeapString) CodeUnit(i int) uint16 {
	if s.Encoding == EncodingByte {
		return uint16(s.Bytes[i])
	}
	return s.Units[i]
}

// AsGoString decodes the string into a Go (UTF-8) string.
func (s *HeapString) AsGoString() string {
	if s.Encoding == EncodingByte {
		out := make([]rune, len(s.Bytes))
		for i, b := range s.Bytes {
			out[i] = rune(b)
		}
		return string(out)
	}
	return string(utf16.Decode(s.Units))
}

func (s *HeapString) Debug() string { return s.AsGoString() }

// Hash returns a cached xxhash of the string's code-unit content. It
// is used only as an O(1) pre-filter in Object key comparisons — a
// linear, content-equality scan is still the source of truth.
func (s *HeapString) Hash() uint64 {
	if s.hashed {
		return s.hash
	}
	h := xxhash.New()
	n := s.Len()
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		u := s.CodeUnit(i)
		buf[2*i] = byte(u)
		buf[2*i+1] = byte(u >> 8)
	}
	_, _ = h.Write(buf)
	s.hash = h.Sum64()
	s.hashed = true
	return s.hash
}

// EqualContent compares two HeapStrings by code-unit content,
// regardless of encoding — the Object/Array key-comparison invariant.
func (s *HeapString) EqualContent(o *HeapString) bool {
	if s == o {
		return true
	}
	if s.Len() != o.Len() {
		return false
	}
	if s.Hash() != o.Hash() {
		return false
	}
	for i := 0; i < s.Len(); i++ {
		if s.CodeUnit(i) != o.CodeUnit(i) {
			return false
		}
	}
	return true
}

// CompareContent implements the ordering used by relational string
// operators: compare code unit by code unit, with the shorter string
// ordered first on a common prefix.
func (s *HeapString) CompareContent(o *HeapString) int {
	n := s.Len()
	if o.Len() < n {
		n = o.Len()
	}
	for i := 0; i < n; i++ {
		a, b := s.CodeUnit(i), o.CodeUnit(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case s.Len() < o.Len():
		return -1
	case s.Len() > o.Len():
		return 1
	default:
		return 0
	}
}

// HeapBinary is a GC-managed raw byte buffer.
type HeapBinary struct {
	hdr  GcHeader
	Data []byte
}

func (b *HeapBinary) gcHeader() *GcHeader         { return &b.hdr }
func (b *HeapBinary) gcTrace(bool, *markQueue)    {}
func (b *HeapBinary) gcFree()                     { b.Data = nil }

// HeapArray is a GC-managed, ordered, growable sequence of values.
type HeapArray struct {
	hdr      GcHeader
	Values   []Value
	Size     int
	Capacity int
	Version  uint64
}

func (a *HeapArray) gcHeader() *GcHeader { return &a.hdr }
func (a *HeapArray) gcFree()             { a.Values = nil }
func (a *HeapArray) gcTrace(mark bool, mq *markQueue) {
	for i := 0; i < a.Size; i++ {
		mq.push(a.Values[i])
	}
}

func (a *HeapArray) ensureCapacity(n int) {
	if n <= a.Capacity {
		return
	}
	newCap := a.Capacity
	if newCap == 0 {
		newCap = 4
	}
	for newCap < n {
		newCap *= 2
	}
	grown := make([]Value, newCap)
	copy(grown, a.Values[:a.Size])
	a.Values = grown
	a.Capacity = newCap
}

// Get returns the element at i, or Undefined if i is out of bounds.
func (a *HeapArray) Get(i int) Value {
	if i < 0 || i >= a.Size {
		return Undefined
	}
	return a.Values[i]
}

// Set writes v at index i, padding with Undefined and extending Size
// when i >= Size.
func (a *HeapArray) Set(i int, v Value) {
	if i < 0 {
		return
	}
	if i >= a.Size {
		a.ensureCapacity(i + 1)
		for j := a.Size; j < i; j++ {
			a.Values[j] = Undefined
		}
		a.Size = i + 1
		a.Version++
	}
	a.Values[i] = v
}

// Append adds v to the end of the array.
func (a *HeapArray) Append(v Value) {
	a.ensureCapacity(a.Size + 1)
	a.Values[a.Size] = v
	a.Size++
	a.Version++
}

// Pop removes and returns the last element; ok is false if empty.
func (a *HeapArray) Pop() (Value, bool) {
	if a.Size == 0 {
		return Undefined, false
	}
	a.Size--
	v := a.Values[a.Size]
	a.Values[a.Size] = Undefined
	a.Version++
	return v, true
}

// Insert places v at index i, shifting [i, Size) right; i > Size
// behaves like Append.
func (a *HeapArray) Insert(i int, v Value) {
	if i >= a.Size {
		a.Append(v)
		return
	}
	if i < 0 {
		i = 0
	}
	a.ensureCapacity(a.Size + 1)
	copy(a.Values[i+1:a.Size+1], a.Values[i:a.Size])
	a.Values[i] = v
	a.Size++
	a.Version++
}

// Remove deletes the element at i, shifting [i+1, Size) left and
// returning the removed value.
func (a *HeapArray) Remove(i int) (Value, bool) {
	if i < 0 || i >= a.Size {
		return Undefined, false
	}
	v := a.Values[i]
	copy(a.Values[i:a.Size-1], a.Values[i+1:a.Size])
	a.Size--
	a.Values[a.Size] = Undefined
	a.Version++
	return v, true
}

// objEntry is one slot in a HeapObject's backing slice. Deleted
// entries are tombstoned (Occupied=false) in place so insertion order
// among the surviving entries is never disturbed.
type objEntry struct {
	Key      *HeapString
	Value    Value
	Occupied bool
}

// HeapObject is a GC-managed ordered map keyed by HeapString content.
type HeapObject struct {
	hdr     GcHeader
	entries []objEntry
}

func (o *HeapObject) gcHeader() *GcHeader { return &o.hdr }
func (o *HeapObject) gcFree()             { o.entries = nil }
func (o *HeapObject) gcTrace(mark bool, mq *markQueue) {
	for _, e := range o.entries {
		if !e.Occupied {
			continue
		}
		mq.push(heapStringValue(e.Key))
		mq.push(e.Value)
	}
}

func (o *HeapObject) count() int {
	n := 0
	for _, e := range o.entries {
		if e.Occupied {
			n++
		}
	}
	return n
}

func (o *HeapObject) find(key *HeapString) int {
	for i := range o.entries {
		e := &o.entries[i]
		if e.Occupied && e.Key.EqualContent(key) {
			return i
		}
	}
	return -1
}

// Get returns the value bound to key and whether it was found: the
// first occupied entry whose content matches.
func (o *HeapObject) Get(key *HeapString) (Value, bool) {
	if i := o.find(key); i >= 0 {
		return o.entries[i].Value, true
	}
	return Undefined, false
}

// Set binds key to v, replacing an existing binding in place (order
// preserved) or appending a new occupied entry at the insertion-order
// tail.
func (o *HeapObject) Set(key *HeapString, v Value) {
	if i := o.find(key); i >= 0 {
		o.entries[i].Value = v
		return
	}
	o.entries = append(o.entries, objEntry{Key: key, Value: v, Occupied: true})
}

// Remove tombstones the entry bound to key; its slot is never reused.
func (o *HeapObject) Remove(key *HeapString) bool {
	i := o.find(key)
	if i < 0 {
		return false
	}
	o.entries[i].Occupied = false
	o.entries[i].Value = Undefined
	return true
}

// Keys returns the occupied keys in insertion order.
func (o *HeapObject) Keys() []*HeapString {
	out := make([]*HeapString, 0, o.count())
	for _, e := range o.entries {
		if e.Occupied {
			out = append(out, e.Key)
		}
	}
	return out
}

// IterMode selects what an Iterator yields per step.
type IterMode uint8

const (
	IterKeys IterMode = iota
	IterValues
	IterEntries
)

// HeapIterator is bound to a source container plus a mode. Array
// iteration re-reads Size on every step so appends become visible;
// Object iteration walks the object's live entry slice by position:
// a removed entry keeps its slot as a tombstone, which Next skips, so
// deletions mid-iteration never shift later entries, while appended
// entries remain visible.
type HeapIterator struct {
	hdr      GcHeader
	Mode     IterMode
	arraySrc *HeapArray
	objSrc   *HeapObject
	index    int
	curKey   Value
	curValue Value
	done     bool
}

func (it *HeapIterator) gcHeader() *GcHeader { return &it.hdr }
func (it *HeapIterator) gcFree()             { it.arraySrc = nil; it.objSrc = nil }
func (it *HeapIterator) gcTrace(mark bool, mq *markQueue) {
	if it.arraySrc != nil {
		mq.push(heapArrayValue(it.arraySrc))
	}
	if it.objSrc != nil {
		mq.push(heapObjectValue(it.objSrc))
		// The object itself is marked above, which transitively
		// marks every *currently occupied* entry; this loop also
		// marks the key and value of every slot from the cursor
		// onward, tombstoned slots included.
		for i := it.index; i < len(it.objSrc.entries); i++ {
			e := it.objSrc.entries[i]
			mq.push(heapStringValue(e.Key))
			mq.push(e.Value)
		}
	}
	mq.push(it.curKey)
	mq.push(it.curValue)
}

// Next advances the iterator, returning false when exhausted. On
// success Current{Key,Value} reflect the newly visited entry.
func (it *HeapIterator) Next() bool {
	if it.done {
		return false
	}
	if it.arraySrc != nil {
		if it.index >= it.arraySrc.Size {
			it.done = true
			return false
		}
		i := it.index
		it.curKey = Int(int64(i))
		it.curValue = it.arraySrc.Get(i)
		it.index++
		return true
	}
	for it.index < len(it.objSrc.entries) {
		e := it.objSrc.entries[it.index]
		it.index++
		if !e.Occupied {
			continue
		}
		it.curKey = heapStringValue(e.Key)
		it.curValue = e.Value
		return true
	}
	it.done = true
	return false
}

// Current returns the key/value pair visited by the most recent
// successful Next call, shaped by Mode.
func (it *HeapIterator) Current() (key, value Value) {
	switch it.Mode {
	case IterKeys:
		return it.curKey, Undefined
	case IterValues:
		return Undefined, it.curValue
	default:
		return it.curKey, it.curValue
	}
}

// HeapException is a GC-managed exception carrying a source position,
// a name, a message and optional metadata.
type HeapException struct {
	hdr      GcHeader
	Position int
	Name     Value
	Message  Value
	Meta     Value
}

func (e *HeapException) gcHeader() *GcHeader { return &e.hdr }
func (e *HeapException) gcFree()             {}
func (e *HeapException) gcTrace(mark bool, mq *markQueue) {
	mq.push(e.Name)
	mq.push(e.Message)
	mq.push(e.Meta)
}

// markQueue is a simple worklist used to avoid recursive stack
// overflow when tracing deeply nested arrays/objects.
type markQueue struct {
	pending []gcObject
	mark    bool
}

func (mq *markQueue) push(v Value) {
	obj := v.gcObject()
	if obj == nil {
		return
	}
	h := obj.gcHeader()
	if h.mark == mq.mark {
		return
	}
	h.mark = mq.mark
	mq.pending = append(mq.pending, obj)
}

func (mq *markQueue) drain() {
	for len(mq.pending) > 0 {
		obj := mq.pending[len(mq.pending)-1]
		mq.pending = mq.pending[:len(mq.pending)-1]
		obj.gcTrace(mq.mark, mq)
	}
}

// Heap owns every live GC entity and runs mark-and-sweep collection
// over the root set.
type Heap struct {
	head     gcObject
	bytes    uint64
	threshold uint64
	liveMark bool
	Roots    *RootSet

	initialArrayCap  int
	initialObjectCap int
}

// NewHeap creates a heap whose collection threshold and initial
// container capacities come from cfg (defaults: 1<<20 bytes, capacity 4).
func NewHeap(cfg *Config) *Heap {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Heap{
		threshold:        uint64(cfg.GetInt("gc.threshold")),
		initialArrayCap:  cfg.GetInt("gc.initial_array_capacity"),
		initialObjectCap: cfg.GetInt("gc.initial_object_capacity"),
		Roots:            NewRootSet(),
	}
}

func (h *Heap) link(obj gcObject, size uint32) {
	hdr := obj.gcHeader()
	hdr.next = h.head
	hdr.mark = h.liveMark
	hdr.size = size
	h.head = obj
	h.bytes += uint64(size)
}

func (h *Heap) checkCollect(pending uint64) {
	if h.bytes+pending >= h.threshold {
		h.Collect()
	}
}

// Collect runs a full mark-and-sweep cycle.
func (h *Heap) Collect() {
	h.liveMark = !h.liveMark
	mq := &markQueue{mark: h.liveMark}
	h.Roots.mark(mq)
	mq.drain()

	var (
		kept  gcObject
		freed int
		bytes uint64
	)
	for cur := h.head; cur != nil; {
		hdr := cur.gcHeader()
		next := hdr.next
		if hdr.mark == h.liveMark {
			hdr.next = kept
			kept = cur
			bytes += uint64(hdr.size)
		} else {
			cur.gcFree()
			freed++
		}
		cur = next
	}
	h.head = kept
	h.bytes = bytes
	log.WithFields(map[string]any{"freed": freed, "bytes": bytes}).Debug("gc: collection complete")
}

// BytesUsed reports the heap's current live-byte accounting.
func (h *Heap) BytesUsed() uint64 { return h.bytes }

const (
	sizeofHeapString    = 48
	sizeofHeapBinary    = 40
	sizeofHeapArray     = 56
	sizeofHeapObject    = 48
	sizeofHeapIterator  = 56
	sizeofHeapException = 64
)

// NewString allocates a HeapString from UTF-8 bytes, choosing the
// byte encoding when every code unit fits in one byte and UTF-16
// otherwise. ok is false on allocation failure.
func (h *Heap) NewString(data []byte) (*HeapString, bool) {
	scan, err := utf8Scan(data)
	if err != nil {
		// Callers that need strict validation should call
		// Utf8Validate themselves; NewString degrades to a
		// byte-for-byte Latin-1 view of whatever was handed in so
		// it never silently drops data.
		return h.NewStringBytes(data)
	}
	h.checkCollect(uint64(sizeofHeapString + scan.utf16Len*2))
	s := &HeapString{}
	if scan.allByte {
		s.Encoding = EncodingByte
		s.Bytes = utf8ToByteEncoding(data)
		h.link(s, uint32(sizeofHeapString+len(s.Bytes)))
	} else {
		s.Encoding = EncodingUTF16
		s.Units = utf8ToUTF16(data)
		h.link(s, uint32(sizeofHeapString+len(s.Units)*2))
	}
	return s, true
}

// NewStringUTF16 allocates a HeapString directly from UTF-16 code
// units (used by the JSON decoder once an accumulator has upgraded
// past the byte encoding).
func (h *Heap) NewStringUTF16(units []uint16) (*HeapString, bool) {
	h.checkCollect(uint64(sizeofHeapString + len(units)*2))
	s := &HeapString{Encoding: EncodingUTF16, Units: append([]uint16(nil), units...)}
	h.link(s, uint32(sizeofHeapString+len(units)*2))
	return s, true
}

// NewStringBytes allocates a byte-encoded HeapString directly from
// code units already known to fit in one byte each.
func (h *Heap) NewStringBytes(units []byte) (*HeapString, bool) {
	h.checkCollect(uint64(sizeofHeapString + len(units)))
	s := &HeapString{Encoding: EncodingByte, Bytes: append([]byte(nil), units...)}
	h.link(s, uint32(sizeofHeapString+len(units)))
	return s, true
}

// NewBinary allocates a HeapBinary copying data.
func (h *Heap) NewBinary(data []byte) (*HeapBinary, bool) {
	h.checkCollect(uint64(sizeofHeapBinary + len(data)))
	b := &HeapBinary{Data: append([]byte(nil), data...)}
	h.link(b, uint32(sizeofHeapBinary+len(data)))
	return b, true
}

// NewArray allocates an empty array with the given initial capacity
// (0 falls back to the heap's configured default).
func (h *Heap) NewArray(capacity int) *HeapArray {
	if capacity <= 0 {
		capacity = h.initialArrayCap
	}
	h.checkCollect(uint64(sizeofHeapArray))
	a := &HeapArray{Values: make([]Value, capacity), Capacity: capacity}
	h.link(a, uint32(sizeofHeapArray))
	return a
}

// NewObject allocates an empty object with the given initial entry
// capacity hint.
func (h *Heap) NewObject(capacity int) *HeapObject {
	if capacity <= 0 {
		capacity = h.initialObjectCap
	}
	h.checkCollect(uint64(sizeofHeapObject))
	o := &HeapObject{entries: make([]objEntry, 0, capacity)}
	h.link(o, uint32(sizeofHeapObject))
	return o
}

// NewException allocates an Exception value wrapping name/message
// HeapStrings and an optional meta value.
func (h *Heap) NewException(name, message *HeapString, position int) *HeapException {
	h.checkCollect(uint64(sizeofHeapException))
	e := &HeapException{
		Name:     heapStringValue(name),
		Message:  heapStringValue(message),
		Position: position,
		Meta:     Undefined,
	}
	h.link(e, uint32(sizeofHeapException))
	return e
}

// NewArrayIterator binds an iterator to an array.
func (h *Heap) NewArrayIterator(a *HeapArray, mode IterMode) *HeapIterator {
	h.checkCollect(uint64(sizeofHeapIterator))
	it := &HeapIterator{Mode: mode, arraySrc: a}
	h.link(it, uint32(sizeofHeapIterator))
	return it
}

// NewObjectIterator binds an iterator to an object; the iterator
// reads the object's entries live as it advances.
func (h *Heap) NewObjectIterator(o *HeapObject, mode IterMode) *HeapIterator {
	h.checkCollect(uint64(sizeofHeapIterator))
	it := &HeapIterator{Mode: mode, objSrc: o}
	h.link(it, uint32(sizeofHeapIterator))
	return it
}

func allBytesFit(data []byte) bool {
	pos := 0
	for pos < len(data) {
		_, size := utf8.DecodeRune(data[pos:])
		if size <= 0 {
			return false
		}
		pos += size
	}
	return true
}

// RootSet is the GC's entry point: globals, the VM's stack-frame
// roots, and transient temp roots.
type RootSet struct {
	globals     []Value
	globalsFree []int

	stack       []Value
	frameBases  []int

	temps       []Value
	tempsLive   []bool
	tempsHoles  int
}

func NewRootSet() *RootSet {
	return &RootSet{}
}

// GlobalHandle identifies a value registered via AddGlobal.
type GlobalHandle int

// AddGlobal registers v as a permanent root (e.g. the host `root`
// value).
func (rs *RootSet) AddGlobal(v Value) GlobalHandle {
	if n := len(rs.globalsFree); n > 0 {
		idx := rs.globalsFree[n-1]
		rs.globalsFree = rs.globalsFree[:n-1]
		rs.globals[idx] = v
		return GlobalHandle(idx)
	}
	rs.globals = append(rs.globals, v)
	return GlobalHandle(len(rs.globals) - 1)
}

// RemoveGlobal unregisters a root previously added with AddGlobal.
func (rs *RootSet) RemoveGlobal(h GlobalHandle) {
	if int(h) < 0 || int(h) >= len(rs.globals) {
		return
	}
	rs.globals[h] = Undefined
	rs.globalsFree = append(rs.globalsFree, int(h))
}

// PushFrame opens a new stack-root scope, typically at VM frame
// entry.
func (rs *RootSet) PushFrame() {
	rs.frameBases = append(rs.frameBases, len(rs.stack))
}

// PopFrame closes the most recently opened stack-root scope,
// discarding every stack root added since the matching PushFrame.
func (rs *RootSet) PopFrame() {
	n := len(rs.frameBases)
	if n == 0 {
		return
	}
	base := rs.frameBases[n-1]
	rs.frameBases = rs.frameBases[:n-1]
	rs.stack = rs.stack[:base]
}

// AddStackRoot roots v for the lifetime of the current frame.
func (rs *RootSet) AddStackRoot(v Value) {
	rs.stack = append(rs.stack, v)
}

// RootGuard is a scoped root acquired via RootSet.Acquire; Release
// must be called on every exit path.
type RootGuard struct {
	rs  *RootSet
	idx int
}

// Acquire roots v for the lifetime of the returned guard.
func (rs *RootSet) Acquire(v Value) RootGuard {
	if rs.tempsHoles > 0 {
		for i, live := range rs.tempsLive {
			if !live {
				rs.temps[i] = v
				rs.tempsLive[i] = true
				rs.tempsHoles--
				return RootGuard{rs: rs, idx: i}
			}
		}
	}
	rs.temps = append(rs.temps, v)
	rs.tempsLive = append(rs.tempsLive, true)
	return RootGuard{rs: rs, idx: len(rs.temps) - 1}
}

// Release returns the guarded value's slot to the free list. Calling
// Release more than once is a no-op.
func (g RootGuard) Release() {
	if g.rs == nil || !g.rs.tempsLive[g.idx] {
		return
	}
	g.rs.temps[g.idx] = Undefined
	g.rs.tempsLive[g.idx] = false
	g.rs.tempsHoles++
}

func (rs *RootSet) mark(mq *markQueue) {
	for _, v := range rs.globals {
		mq.push(v)
	}
	for _, v := range rs.stack {
		mq.push(v)
	}
	for i, live := range rs.tempsLive {
		if live {
			mq.push(rs.temps[i])
		}
	}
}
