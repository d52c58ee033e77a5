package fieldtype

import "github.com/loykin/ctfwriter/internal/ctferr"

// Digit counts of the IEEE 754 formats the serializer can encode. The
// mantissa count includes the implicit leading bit, so exp+mant is the
// total width including the sign bit.
const (
	FloatExpDigits   = 8
	FloatMantDigits  = 24
	DoubleExpDigits  = 11
	DoubleMantDigits = 53
)

// Float is an IEEE 754 binary floating point type.
type Float struct {
	base
	exp   uint
	mant  uint
	order ByteOrder
}

// NewFloat creates a single precision type; use SetDigits for double.
func NewFloat() *Float {
	t := &Float{exp: FloatExpDigits, mant: FloatMantDigits}
	t.align = 8
	return t
}

// NewDouble creates a double precision type.
func NewDouble() *Float {
	t := &Float{exp: DoubleExpDigits, mant: DoubleMantDigits}
	t.align = 8
	return t
}

func (t *Float) ID() ID                    { return IDFloat }
func (t *Float) Alignment() uint           { return t.align }
func (t *Float) Freeze()                   { t.frozen.Store(true) }
func (t *Float) ExponentDigits() uint      { return t.exp }
func (t *Float) MantissaDigits() uint      { return t.mant }
func (t *Float) ByteOrder() ByteOrder      { return t.order }
func (t *Float) Size() uint                { return t.exp + t.mant }
func (t *Float) SetAlignment(a uint) error { return t.setAlignment("float set alignment", a) }

// SetDigits sets both digit counts at once so the pair is validated together.
func (t *Float) SetDigits(exp, mant uint) error {
	if err := t.checkMutable("float set digits"); err != nil {
		return err
	}
	if exp == 0 || mant == 0 {
		return ctferr.New(ctferr.KindInvalidArgument, "float set digits", "exponent and mantissa digits must be > 0")
	}
	switch {
	case exp == FloatExpDigits && mant == FloatMantDigits:
	case exp == DoubleExpDigits && mant == DoubleMantDigits:
	default:
		return ctferr.New(ctferr.KindInvalidArgument, "float set digits",
			"unsupported format exp_dig=%d mant_dig=%d (want 8/24 or 11/53)", exp, mant)
	}
	t.exp, t.mant = exp, mant
	return nil
}

func (t *Float) SetByteOrder(o ByteOrder) error {
	if err := t.checkMutable("float set byte order"); err != nil {
		return err
	}
	if o < Native || o > Network {
		return ctferr.New(ctferr.KindInvalidArgument, "float set byte order", "unknown byte order %d", o)
	}
	t.order = o
	return nil
}
