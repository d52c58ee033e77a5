package fieldtype

import (
	"math"

	"github.com/loykin/ctfwriter/internal/ctferr"
)

// Base is the preferred display radix of an integer.
type Base int

const (
	BaseBinary      Base = 2
	BaseOctal       Base = 8
	BaseDecimal     Base = 10
	BaseHexadecimal Base = 16
)

func (b Base) String() string {
	switch b {
	case BaseBinary:
		return "binary"
	case BaseOctal:
		return "octal"
	case BaseHexadecimal:
		return "hexadecimal"
	default:
		return "decimal"
	}
}

// Encoding of integers used as characters and of strings.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingUTF8
	EncodingASCII
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "UTF8"
	case EncodingASCII:
		return "ASCII"
	default:
		return "none"
	}
}

const MaxIntegerSize = 64

// Integer is a fixed-width signed or unsigned integer of 1..64 bits.
type Integer struct {
	base
	size     uint
	signed   bool
	order    ByteOrder
	radix    Base
	encoding Encoding
	clock    string
}

// NewInteger creates an unsigned integer type of the given width in bits.
// Byte-multiple widths default to byte alignment, others are bit-packed.
func NewInteger(size uint) (*Integer, error) {
	if size == 0 || size > MaxIntegerSize {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new integer", "size %d not in 1..%d", size, MaxIntegerSize)
	}
	t := &Integer{size: size, radix: BaseDecimal}
	t.align = 1
	if size%8 == 0 {
		t.align = 8
	}
	return t, nil
}

// NewSignedInteger is NewInteger followed by SetSigned(true).
func NewSignedInteger(size uint) (*Integer, error) {
	t, err := NewInteger(size)
	if err != nil {
		return nil, err
	}
	if err := t.SetSigned(true); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Integer) ID() ID                    { return IDInteger }
func (t *Integer) Alignment() uint           { return t.align }
func (t *Integer) Freeze()                   { t.frozen.Store(true) }
func (t *Integer) Size() uint                { return t.size }
func (t *Integer) Signed() bool              { return t.signed }
func (t *Integer) ByteOrder() ByteOrder      { return t.order }
func (t *Integer) Base() Base                { return t.radix }
func (t *Integer) Encoding() Encoding        { return t.encoding }
func (t *Integer) SetAlignment(a uint) error { return t.setAlignment("integer set alignment", a) }

func (t *Integer) SetSigned(signed bool) error {
	if err := t.checkMutable("integer set signed"); err != nil {
		return err
	}
	if signed && t.size < 2 {
		return ctferr.New(ctferr.KindInvalidArgument, "integer set signed", "a signed integer needs at least 2 bits")
	}
	t.signed = signed
	return nil
}

func (t *Integer) SetByteOrder(o ByteOrder) error {
	if err := t.checkMutable("integer set byte order"); err != nil {
		return err
	}
	if o < Native || o > Network {
		return ctferr.New(ctferr.KindInvalidArgument, "integer set byte order", "unknown byte order %d", o)
	}
	t.order = o
	return nil
}

func (t *Integer) SetBase(b Base) error {
	if err := t.checkMutable("integer set base"); err != nil {
		return err
	}
	switch b {
	case BaseBinary, BaseOctal, BaseDecimal, BaseHexadecimal:
	default:
		return ctferr.New(ctferr.KindInvalidArgument, "integer set base", "unsupported base %d", b)
	}
	t.radix = b
	return nil
}

func (t *Integer) SetEncoding(e Encoding) error {
	if err := t.checkMutable("integer set encoding"); err != nil {
		return err
	}
	if e < EncodingNone || e > EncodingASCII {
		return ctferr.New(ctferr.KindInvalidArgument, "integer set encoding", "unknown encoding %d", e)
	}
	t.encoding = e
	return nil
}

// MappedClock names the clock whose value the integer carries, if any.
func (t *Integer) MappedClock() string { return t.clock }

func (t *Integer) SetMappedClock(name string) error {
	if err := t.checkMutable("integer set mapped clock"); err != nil {
		return err
	}
	if name != "" {
		if err := ValidateFieldName(name); err != nil {
			return err
		}
	}
	t.clock = name
	return nil
}

// MinInt and MaxInt bound the signed representable range.
func (t *Integer) MinInt() int64 {
	if !t.signed {
		return 0
	}
	return -1 << (t.size - 1)
}

func (t *Integer) MaxInt() int64 {
	if !t.signed {
		if t.size >= 63 {
			return math.MaxInt64
		}
		return 1<<t.size - 1
	}
	return 1<<(t.size-1) - 1
}

// MaxUint is the largest unsigned value the type can hold.
func (t *Integer) MaxUint() uint64 {
	if t.signed {
		return uint64(t.MaxInt())
	}
	if t.size == 64 {
		return math.MaxUint64
	}
	return 1<<t.size - 1
}

// FitsInt reports whether v is representable.
func (t *Integer) FitsInt(v int64) bool {
	if t.signed {
		return v >= t.MinInt() && v <= t.MaxInt()
	}
	return v >= 0 && uint64(v) <= t.MaxUint()
}

// FitsUint reports whether v is representable.
func (t *Integer) FitsUint(v uint64) bool { return v <= t.MaxUint() }
