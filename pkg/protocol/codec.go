package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer appends positionally encoded fields to a frame buffer.
// Integers are big-endian, fixed strings are right-padded with NUL.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer whose buffer already holds the request header
func NewWriter(length uint64, cmd Command) *Writer {
	buf := make([]byte, HeaderSize, HeaderSize+int(min(length, 4096)))
	putHeader(buf, length, cmd)
	return &Writer{buf: buf}
}

// NewBodyWriter returns a Writer without a header, for building bodies alone
func NewBodyWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) Uint64(v uint64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	return w.Uint64(uint64(v))
}

// FixedString writes s into exactly width bytes, truncating or NUL padding
func (w *Writer) FixedString(s string, width int) *Writer {
	start := len(w.buf)
	w.buf = append(w.buf, make([]byte, width)...)
	copy(w.buf[start:], s)
	return w
}

// String writes s with no padding; used for the trailing variable-length field
func (w *Writer) String(s string) *Writer {
	w.buf = append(w.buf, s...)
	return w
}

func (w *Writer) Bytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Len returns the number of buffered bytes, header included
func (w *Writer) Len() int {
	return len(w.buf)
}

// Frame returns the buffered bytes
func (w *Writer) Frame() []byte {
	return w.buf
}

// Reader decodes positional fields from a response body. The first short read
// is sticky: later calls return zero values and Err reports the failure.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedResponse, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// FixedString reads width bytes and trims NUL padding on both ends
func (r *Reader) FixedString(width int) string {
	b := r.take(width)
	if b == nil {
		return ""
	}
	return TrimNUL(b)
}

// Bytes returns the next n bytes without copying
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Rest returns all unread bytes
func (r *Reader) Rest() []byte {
	return r.take(r.Remaining())
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Err() error {
	return r.err
}

// Done reports an error unless the whole body has been consumed
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedResponse, len(r.buf)-r.off)
	}
	return nil
}

// TrimNUL strips NUL padding from a fixed-width string field
func TrimNUL(b []byte) string {
	return string(bytes.Trim(b, "\x00"))
}
