package fiberscript

import "unicode/utf8"

// utf8ScanResult summarizes a validated UTF-8 buffer: how many UTF-16
// code units it would take to represent, and whether every code point
// fits in a single byte.
type utf8ScanResult struct {
	utf16Len int
	allByte  bool
}

// Utf8Validate reports whether data is well-formed UTF-8: no overlong
// encodings, no encoded surrogate halves, no truncated sequences.
// Go's encoding/utf8 already rejects overlongs and surrogates as part
// of canonical decoding, so a single scan pass is sufficient.
func Utf8Validate(data []byte) bool {
	_, err := utf8Scan(data)
	return err == nil
}

// utf8Scan validates data and computes its scan summary in one pass.
func utf8Scan(data []byte) (utf8ScanResult, error) {
	var res utf8ScanResult
	res.allByte = true
	pos := 0
	for pos < len(data) {
		r, size := utf8.DecodeRune(data[pos:])
		if r == utf8.RuneError && size <= 1 {
			return res, newParseError(pos, "invalid utf-8 sequence")
		}
		if r > 0xFF {
			res.allByte = false
		}
		if r > 0xFFFF {
			res.utf16Len += 2 // surrogate pair
		} else {
			res.utf16Len++
		}
		pos += size
	}
	return res, nil
}

// utf8ToByteEncoding transcodes validated UTF-8 whose scan reported
// allByte=true into a one-byte-per-code-point buffer.
func utf8ToByteEncoding(data []byte) []byte {
	out := make([]byte, 0, len(data))
	pos := 0
	for pos < len(data) {
		r, size := utf8.DecodeRune(data[pos:])
		out = append(out, byte(r))
		pos += size
	}
	return out
}

// utf8ToUTF16 transcodes validated UTF-8 into UTF-16 code units,
// encoding code points above 0xFFFF as surrogate pairs.
func utf8ToUTF16(data []byte) []uint16 {
	out := make([]uint16, 0, len(data))
	pos := 0
	for pos < len(data) {
		r, size := utf8.DecodeRune(data[pos:])
		if r > 0xFFFF {
			r -= 0x10000
			hi := uint16(0xD800 + (r >> 10))
			lo := uint16(0xDC00 + (r & 0x3FF))
			out = append(out, hi, lo)
		} else {
			out = append(out, uint16(r))
		}
		pos += size
	}
	return out
}

// decodeRuneOrError decodes a single rune from the front of b,
// returning a zero size on invalid UTF-8 (truncated or overlong
// sequences, encoded surrogate halves).
func decodeRuneOrError(b []byte) (rune, int) {
	r, size := utf8.DecodeRune(b)
	if r == utf8.RuneError && size <= 1 {
		return 0, 0
	}
	return r, size
}

// utf16LenOf reports how many UTF-16 code units data would need,
// without allocating the transcoded buffer.
func utf16LenOf(data []byte) (int, bool) {
	res, err := utf8Scan(data)
	if err != nil {
		return 0, false
	}
	return res.utf16Len, true
}
