package packet

import (
	"io"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// BitWriter appends bit-packed values to a growing buffer. Positions are
// in bits from the start of the buffer, which is the start of the packet,
// so alignment is always relative to the packet.
//
// Little-endian values fill each byte from its least significant bit,
// big-endian values from its most significant bit.
type BitWriter struct {
	buf []byte
	pos uint64
}

// Mark is a rewind point.
type Mark struct {
	pos  uint64
	last byte
}

func (w *BitWriter) Pos() uint64 { return w.pos }

// Bytes returns the buffer up to the last partially written byte.
func (w *BitWriter) Bytes() []byte { return w.buf[:(w.pos+7)/8] }

// Reset empties the buffer and leaves the cursor at bit start, zero-filled.
func (w *BitWriter) Reset(start uint64) {
	w.buf = w.buf[:0]
	w.pos = 0
	w.Skip(start)
}

func (w *BitWriter) grow(bits uint64) {
	need := int((w.pos + bits + 7) / 8)
	for len(w.buf) < need {
		w.buf = append(w.buf, 0)
	}
}

// Skip advances the cursor over zero bits.
func (w *BitWriter) Skip(bits uint64) {
	w.grow(bits)
	w.pos += bits
}

// Align pads with zero bits up to the next multiple of align.
func (w *BitWriter) Align(align uint) {
	if align <= 1 {
		return
	}
	a := uint64(align)
	if rem := w.pos % a; rem != 0 {
		w.Skip(a - rem)
	}
}

func (w *BitWriter) Mark() Mark {
	m := Mark{pos: w.pos}
	if w.pos%8 != 0 {
		m.last = w.buf[w.pos/8]
	}
	return m
}

// Rewind discards everything written after m.
func (w *BitWriter) Rewind(m Mark) {
	w.pos = m.pos
	w.buf = w.buf[:(m.pos+7)/8]
	if m.pos%8 != 0 {
		w.buf[m.pos/8] = m.last
	}
}

// WriteBits writes the low size bits of v. order must be resolved.
func (w *BitWriter) WriteBits(v uint64, size uint, order fieldtype.ByteOrder) {
	if size == 0 {
		return
	}
	w.grow(uint64(size))
	putBits(w.buf, w.pos, v, size, order)
	w.pos += uint64(size)
}

// WriteBytes copies raw bytes. The cursor must be byte-aligned.
func (w *BitWriter) WriteBytes(p []byte) {
	if w.pos%8 != 0 {
		panic(ctferr.New(ctferr.KindInternalInconsistency, "write bytes", "cursor at bit %d is not byte-aligned", w.pos))
	}
	w.grow(uint64(len(p)) * 8)
	copy(w.buf[w.pos/8:], p)
	w.pos += uint64(len(p)) * 8
}

// PutBits overwrites size bits at an absolute bit position already inside
// the buffer.
func (w *BitWriter) PutBits(at uint64, v uint64, size uint, order fieldtype.ByteOrder) {
	putBits(w.buf, at, v, size, order)
}

func putBits(buf []byte, pos uint64, v uint64, size uint, order fieldtype.ByteOrder) {
	if size < 64 {
		v &= 1<<size - 1
	}
	if pos%8 == 0 && size%8 == 0 {
		n := size / 8
		start := pos / 8
		for k := uint(0); k < n; k++ {
			if order == fieldtype.BigEndian {
				buf[start+uint64(k)] = byte(v >> (size - 8 - 8*k))
			} else {
				buf[start+uint64(k)] = byte(v >> (8 * k))
			}
		}
		return
	}
	for i := uint(0); i < size; i++ {
		abs := pos + uint64(i)
		var bit byte
		var mask byte
		if order == fieldtype.BigEndian {
			bit = byte(v>>(size-1-i)) & 1
			mask = 1 << (7 - abs%8)
		} else {
			bit = byte(v>>i) & 1
			mask = 1 << (abs % 8)
		}
		if bit == 1 {
			buf[abs/8] |= mask
		} else {
			buf[abs/8] &^= mask
		}
	}
}

// BitReader is the inverse of BitWriter over a packet's bytes.
type BitReader struct {
	buf   []byte
	pos   uint64
	limit uint64
}

// NewBitReader reads buf starting at bit start and stopping at bit limit.
func NewBitReader(buf []byte, start, limit uint64) *BitReader {
	if n := uint64(len(buf)) * 8; limit > n {
		limit = n
	}
	return &BitReader{buf: buf, pos: start, limit: limit}
}

func (r *BitReader) Pos() uint64       { return r.pos }
func (r *BitReader) Remaining() uint64 { return r.limit - r.pos }

func truncated(op string) error {
	return &ctferr.Error{Kind: ctferr.KindIOFailure, Op: op, Msg: "packet truncated", Err: io.ErrUnexpectedEOF}
}

func (r *BitReader) Align(align uint) error {
	if align <= 1 {
		return nil
	}
	a := uint64(align)
	if rem := r.pos % a; rem != 0 {
		if r.pos+a-rem > r.limit {
			return truncated("align")
		}
		r.pos += a - rem
	}
	return nil
}

func (r *BitReader) ReadBits(size uint, order fieldtype.ByteOrder) (uint64, error) {
	if r.pos+uint64(size) > r.limit {
		return 0, truncated("read bits")
	}
	var v uint64
	for i := uint(0); i < size; i++ {
		abs := r.pos + uint64(i)
		if order == fieldtype.BigEndian {
			bit := uint64(r.buf[abs/8]>>(7-abs%8)) & 1
			v |= bit << (size - 1 - i)
		} else {
			bit := uint64(r.buf[abs/8]>>(abs%8)) & 1
			v |= bit << i
		}
	}
	r.pos += uint64(size)
	return v, nil
}

// ReadCString reads a NUL-terminated string from a byte-aligned cursor.
func (r *BitReader) ReadCString() (string, error) {
	if r.pos%8 != 0 {
		return "", ctferr.New(ctferr.KindInternalInconsistency, "read string", "cursor at bit %d is not byte-aligned", r.pos)
	}
	start := r.pos / 8
	end := r.limit / 8
	for i := start; i < end; i++ {
		if r.buf[i] == 0 {
			r.pos = (i + 1) * 8
			return string(r.buf[start:i]), nil
		}
	}
	return "", truncated("read string")
}
