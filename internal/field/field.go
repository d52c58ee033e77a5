package field

import (
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Field is a value conforming to a fieldtype.Type. The concrete variants
// mirror the type variants: *Integer, *Float, *String, *Enum, *Array, *Struct.
type Field interface {
	Type() fieldtype.Type
	// Set assigns a Go value, type-checked against the field's schema.
	Set(v any) error
	// Value returns the held value as plain Go data: int64/uint64, float64,
	// string, []any for arrays and map[string]any for structures.
	Value() any
	// Freeze makes the value and all of its children read-only.
	Freeze()
	Frozen() bool
}

// lock is the read-only flag shared by every variant.
type lock struct{ frozen atomic.Bool }

func (l *lock) Frozen() bool { return l.frozen.Load() }

func (l *lock) check(op string) error {
	if l.frozen.Load() {
		return ctferr.New(ctferr.KindFrozenSchema, op, "value is frozen")
	}
	return nil
}

// New instantiates a zero-valued tree for t. The type is frozen so the
// tree's topology can never drift from its schema.
func New(t fieldtype.Type) Field {
	if t == nil {
		return nil
	}
	t.Freeze()
	return instantiate(t)
}

func instantiate(t fieldtype.Type) Field {
	switch ft := t.(type) {
	case *fieldtype.Integer:
		return &Integer{typ: ft}
	case *fieldtype.Float:
		return &Float{typ: ft}
	case *fieldtype.String:
		return &String{typ: ft}
	case *fieldtype.Enum:
		return &Enum{typ: ft, container: &Integer{typ: ft.Container()}}
	case *fieldtype.Array:
		a := &Array{typ: ft, elems: make([]Field, ft.Length())}
		for i := range a.elems {
			a.elems[i] = instantiate(ft.Element())
		}
		return a
	case *fieldtype.Struct:
		s := &Struct{typ: ft, fields: make([]Field, ft.FieldCount())}
		for i := range s.fields {
			s.fields[i] = instantiate(ft.FieldAt(i).Type)
		}
		return s
	}
	panic(ctferr.New(ctferr.KindInternalInconsistency, "instantiate field", "unknown type %T", t))
}

func mismatch(op string, want fieldtype.ID, v any) error {
	return ctferr.New(ctferr.KindTypeMismatch, op, "cannot assign %T to %s field", v, want)
}

// Integer holds a signed or unsigned value within the declared width.
type Integer struct {
	lock
	typ *fieldtype.Integer
	raw uint64
}

func (f *Integer) Freeze() { f.frozen.Store(true) }

func (f *Integer) Type() fieldtype.Type            { return f.typ }
func (f *Integer) IntegerType() *fieldtype.Integer { return f.typ }

// Int returns the value interpreted as signed.
func (f *Integer) Int() int64 { return int64(f.raw) }

// Uint returns the value interpreted as unsigned.
func (f *Integer) Uint() uint64 { return f.raw }

func (f *Integer) SetInt(v int64) error {
	if err := f.check("set integer"); err != nil {
		return err
	}
	if !f.typ.FitsInt(v) {
		return ctferr.New(ctferr.KindOutOfRange, "set integer", "%d does not fit %s", v, describe(f.typ))
	}
	f.raw = uint64(v)
	return nil
}

func (f *Integer) SetUint(v uint64) error {
	if err := f.check("set integer"); err != nil {
		return err
	}
	if !f.typ.FitsUint(v) {
		return ctferr.New(ctferr.KindOutOfRange, "set integer", "%d does not fit %s", v, describe(f.typ))
	}
	f.raw = v
	return nil
}

func (f *Integer) Set(v any) error {
	switch x := v.(type) {
	case int:
		return f.SetInt(int64(x))
	case int8:
		return f.SetInt(int64(x))
	case int16:
		return f.SetInt(int64(x))
	case int32:
		return f.SetInt(int64(x))
	case int64:
		return f.SetInt(x)
	case uint:
		return f.SetUint(uint64(x))
	case uint8:
		return f.SetUint(uint64(x))
	case uint16:
		return f.SetUint(uint64(x))
	case uint32:
		return f.SetUint(uint64(x))
	case uint64:
		return f.SetUint(x)
	}
	return mismatch("set integer", fieldtype.IDInteger, v)
}

func (f *Integer) Value() any {
	if f.typ.Signed() {
		return f.Int()
	}
	return f.Uint()
}

func describe(t *fieldtype.Integer) string {
	sign := "unsigned"
	if t.Signed() {
		sign = "signed"
	}
	return sign + " " + strconv.FormatUint(uint64(t.Size()), 10) + "-bit integer"
}

// Float holds a floating point value; single precision types round on write.
type Float struct {
	lock
	typ *fieldtype.Float
	v   float64
}

func (f *Float) Type() fieldtype.Type        { return f.typ }
func (f *Float) FloatType() *fieldtype.Float { return f.typ }
func (f *Float) Float() float64              { return f.v }
func (f *Float) Value() any                  { return f.v }
func (f *Float) Freeze()                     { f.frozen.Store(true) }

func (f *Float) SetFloat(v float64) error {
	if err := f.check("set float"); err != nil {
		return err
	}
	f.v = v
	return nil
}

func (f *Float) Set(v any) error {
	switch x := v.(type) {
	case float64:
		return f.SetFloat(x)
	case float32:
		return f.SetFloat(float64(x))
	case int:
		return f.SetFloat(float64(x))
	case int32:
		return f.SetFloat(float64(x))
	case int64:
		return f.SetFloat(float64(x))
	case uint32:
		return f.SetFloat(float64(x))
	case uint64:
		return f.SetFloat(float64(x))
	}
	return mismatch("set float", fieldtype.IDFloat, v)
}

// String holds text without embedded NUL bytes.
type String struct {
	lock
	typ *fieldtype.String
	v   string
}

func (f *String) Freeze() { f.frozen.Store(true) }

func (f *String) Type() fieldtype.Type { return f.typ }
func (f *String) String() string       { return f.v }
func (f *String) Value() any           { return f.v }

func (f *String) SetString(s string) error {
	const op = "set string"
	if err := f.check(op); err != nil {
		return err
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return ctferr.New(ctferr.KindInvalidArgument, op, "string contains NUL at byte %d", i)
		}
		if f.typ.Encoding() == fieldtype.EncodingASCII && s[i] >= utf8.RuneSelf {
			return ctferr.New(ctferr.KindInvalidArgument, op, "non-ASCII byte at %d", i)
		}
	}
	if f.typ.Encoding() == fieldtype.EncodingUTF8 && !utf8.ValidString(s) {
		return ctferr.New(ctferr.KindInvalidArgument, op, "invalid UTF-8")
	}
	f.v = s
	return nil
}

func (f *String) Set(v any) error {
	switch x := v.(type) {
	case string:
		return f.SetString(x)
	case []byte:
		return f.SetString(string(x))
	}
	return mismatch("set string", fieldtype.IDString, v)
}
