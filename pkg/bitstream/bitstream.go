// Package bitstream implements LSB-first bit packing used by the page encoder.
//
// Bits are appended starting at the least significant bit of each byte. The
// writer keeps up to 64 pending bits and flushes whole bytes as they fill.
package bitstream

import (
	"errors"
	"fmt"
)

// ErrOverflow is returned when a value does not fit in the requested width.
var ErrOverflow = errors.New("value does not fit in bit width")

// ErrShortRead is returned when reading past the end of the data.
var ErrShortRead = errors.New("read past end of bitstream")

// Writer appends bit fields to a byte slice.
type Writer struct {
	buf         []byte
	pending     uint64
	pendingBits uint
}

// NewWriter returns a writer that appends to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// PutBits appends the low numBits of value. numBits must be at most 32.
func (w *Writer) PutBits(value uint32, numBits uint) error {
	if numBits > 32 {
		return fmt.Errorf("%w: %d bits requested", ErrOverflow, numBits)
	}
	if numBits < 32 && uint64(value) >= 1<<numBits {
		return fmt.Errorf("%w: %d in %d bits", ErrOverflow, value, numBits)
	}
	w.pending |= uint64(value) << w.pendingBits
	w.pendingBits += numBits
	for w.pendingBits >= 8 {
		w.buf = append(w.buf, byte(w.pending))
		w.pending >>= 8
		w.pendingBits -= 8
	}
	return nil
}

// MustPutBits is PutBits for callers that already validated the width.
func (w *Writer) MustPutBits(value uint32, numBits uint) {
	if err := w.PutBits(value, numBits); err != nil {
		panic(err)
	}
}

// Flush writes any partial byte and zero pads to a multiple of alignment bytes.
func (w *Writer) Flush(alignment int) {
	if w.pendingBits > 0 {
		w.buf = append(w.buf, byte(w.pending))
	}
	if alignment > 1 {
		for len(w.buf)%alignment != 0 {
			w.buf = append(w.buf, 0)
		}
	}
	w.pending = 0
	w.pendingBits = 0
}

// Bytes returns the flushed bytes. Pending bits are not included.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// BitLen returns the number of bits written so far, including pending bits.
func (w *Writer) BitLen() int {
	return len(w.buf)*8 + int(w.pendingBits)
}

// Reader reads LSB-first bit fields from a byte slice.
type Reader struct {
	data   []byte
	bitPos int
}

// NewReader returns a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Seek moves the read cursor to an absolute bit offset.
func (r *Reader) Seek(bitOffset int) {
	r.bitPos = bitOffset
}

// Pos returns the current bit offset.
func (r *Reader) Pos() int {
	return r.bitPos
}

// ReadBits reads numBits (at most 32) and advances the cursor.
func (r *Reader) ReadBits(numBits uint) (uint32, error) {
	if numBits > 32 {
		return 0, fmt.Errorf("%w: %d bits requested", ErrOverflow, numBits)
	}
	if r.bitPos+int(numBits) > len(r.data)*8 {
		return 0, fmt.Errorf("%w: need %d bits at %d, have %d", ErrShortRead, numBits, r.bitPos, len(r.data)*8)
	}
	v := ExtractBits(r.data, r.bitPos, numBits)
	r.bitPos += int(numBits)
	return v, nil
}

// ExtractBits reads numBits starting at bitOffset without bounds errors.
// Bits past the end of data read as zero.
func ExtractBits(data []byte, bitOffset int, numBits uint) uint32 {
	var v uint64
	first := bitOffset >> 3
	shift := uint(bitOffset & 7)
	for i := 0; i < 5; i++ {
		if first+i < len(data) {
			v |= uint64(data[first+i]) << (8 * uint(i))
		}
	}
	v >>= shift
	if numBits >= 32 {
		return uint32(v)
	}
	return uint32(v & (1<<numBits - 1))
}
