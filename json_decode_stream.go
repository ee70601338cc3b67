package fiberscript

// DecodeStatus reports the outcome of one StreamDecoder.Feed call.
type DecodeStatus int

const (
	// StatusNeedMore means the buffered bytes form a valid prefix but
	// no complete top-level value yet; call Feed again with more data.
	StatusNeedMore DecodeStatus = iota
	// StatusComplete means a full top-level value was decoded; Result
	// returns it. Feed may still be called again for a fresh value
	// only after a call to Reset.
	StatusComplete
	// StatusError means the stream is permanently broken; Err returns
	// the (message, offset) describing why.
	StatusError
)

// StreamDecoder parses a single JSON value incrementally across
// Feed calls, so a caller reading off a socket or file in chunks
// never needs the whole payload buffered in advance. Internally it
// keeps the not-yet-consumed suffix of the input and re-parses the
// whole buffered value from the start of that suffix on every Feed
// call; the buffer is trimmed only once a value completes.
type StreamDecoder struct {
	h        *Heap
	buf      []byte
	consumed int // absolute offset of buf[0] in the overall stream, for error reporting
	result   Value
	status   DecodeStatus
	err      error
}

// NewStreamDecoder creates a decoder that will allocate heap values
// against h.
func NewStreamDecoder(h *Heap) *StreamDecoder {
	return &StreamDecoder{h: h}
}

// Feed appends chunk to the working buffer and advances the parse as
// far as possible.
func (d *StreamDecoder) Feed(chunk []byte) (DecodeStatus, error) {
	if d.status == StatusError {
		return d.status, d.err
	}
	if d.status == StatusComplete {
		d.buf = append(d.buf, chunk...)
		return d.checkTrailingOnly()
	}
	d.buf = append(d.buf, chunk...)
	return d.attempt(false)
}

// Finish signals that no more bytes are coming. It reports
// StatusError on a value that was still incomplete (premature EOF),
// and otherwise returns the same status a final Feed would have.
func (d *StreamDecoder) Finish() (DecodeStatus, error) {
	if d.status == StatusError || d.status == StatusComplete {
		return d.status, d.err
	}
	return d.attempt(true)
}

func (d *StreamDecoder) attempt(atEOF bool) (DecodeStatus, error) {
	p := &jsonScanner{h: d.h, data: d.buf, atEOF: atEOF}
	p.skipWS()
	v, err := p.parseValue()
	if err != nil {
		if err == errNeedMore {
			return StatusNeedMore, nil
		}
		d.status = StatusError
		d.err = offsetErr(err, d.consumed)
		return d.status, d.err
	}
	d.result = v
	d.status = StatusComplete
	d.consumed += p.pos
	d.buf = d.buf[p.pos:]
	return d.checkTrailingOnly()
}

// checkTrailingOnly scans whatever is left in buf (all of it, since a
// value is already complete) for non-whitespace bytes, which would
// mean more than one top-level value was written to the stream.
func (d *StreamDecoder) checkTrailingOnly() (DecodeStatus, error) {
	p := &jsonScanner{data: d.buf}
	p.skipWS()
	if p.pos != len(d.buf) {
		d.status = StatusError
		d.err = decodeErr(d.consumed+p.pos, "trailing garbage")
		return d.status, d.err
	}
	d.buf = d.buf[p.pos:]
	d.consumed += p.pos
	return d.status, nil
}

func offsetErr(err error, base int) error {
	if de, ok := err.(DecodeError); ok {
		de.Offset += base
		return de
	}
	return err
}

// Result returns the decoded value after StatusComplete.
func (d *StreamDecoder) Result() (Value, bool) {
	if d.status != StatusComplete {
		return Undefined, false
	}
	return d.result, true
}

// Reset prepares the decoder to parse another top-level value,
// keeping whatever bytes were buffered beyond the previous one.
func (d *StreamDecoder) Reset() {
	d.status = StatusNeedMore
	d.result = Undefined
	d.err = nil
}
