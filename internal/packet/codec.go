package packet

import (
	"math"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

func inconsistent(format string, args ...any) {
	panic(ctferr.New(ctferr.KindInternalInconsistency, "encode field", format, args...))
}

// Encode appends f to w. Native byte orders resolve to order. A value
// tree whose shape does not match its type panics with an
// InternalInconsistency error.
func Encode(w *BitWriter, f field.Field, order fieldtype.ByteOrder) {
	switch v := f.(type) {
	case *field.Integer:
		t := v.IntegerType()
		if t == nil {
			inconsistent("integer value without type")
		}
		w.Align(t.Alignment())
		w.WriteBits(v.Uint(), t.Size(), t.ByteOrder().Resolve(order))
	case *field.Enum:
		if v.EnumType() == nil {
			inconsistent("enum value without type")
		}
		Encode(w, v.Container(), order)
	case *field.Float:
		t := v.FloatType()
		if t == nil {
			inconsistent("float value without type")
		}
		w.Align(t.Alignment())
		var bits uint64
		switch t.Size() {
		case 32:
			bits = uint64(math.Float32bits(float32(v.Float())))
		case 64:
			bits = math.Float64bits(v.Float())
		default:
			inconsistent("unsupported float size %d", t.Size())
		}
		w.WriteBits(bits, t.Size(), t.ByteOrder().Resolve(order))
	case *field.String:
		t, ok := v.Type().(*fieldtype.String)
		if !ok || t == nil {
			inconsistent("string value without type")
		}
		w.Align(t.Alignment())
		w.WriteBytes([]byte(v.String()))
		w.WriteBytes([]byte{0})
	case *field.Array:
		t := v.ArrayType()
		if t == nil || v.Len() != t.Length() {
			inconsistent("array value does not match its type")
		}
		w.Align(t.Alignment())
		for i := 0; i < v.Len(); i++ {
			el, _ := v.At(i)
			Encode(w, el, order)
		}
	case *field.Struct:
		t := v.StructType()
		if t == nil || v.Len() != t.FieldCount() {
			inconsistent("struct value does not match its type")
		}
		w.Align(t.Alignment())
		for i := 0; i < v.Len(); i++ {
			child, _ := v.FieldAt(i)
			if child.Type() != t.FieldAt(i).Type {
				inconsistent("field %q does not match its type", t.FieldAt(i).Name)
			}
			Encode(w, child, order)
		}
	default:
		inconsistent("unknown field %T", f)
	}
}

// Decode reads a value of type t from r.
func Decode(r *BitReader, t fieldtype.Type, order fieldtype.ByteOrder) (field.Field, error) {
	f := field.New(t)
	if err := decodeInto(r, f, order); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeInto(r *BitReader, f field.Field, order fieldtype.ByteOrder) error {
	switch v := f.(type) {
	case *field.Integer:
		t := v.IntegerType()
		if err := r.Align(t.Alignment()); err != nil {
			return err
		}
		raw, err := r.ReadBits(t.Size(), t.ByteOrder().Resolve(order))
		if err != nil {
			return err
		}
		if t.Signed() {
			shift := 64 - t.Size()
			return v.SetInt(int64(raw<<shift) >> shift)
		}
		return v.SetUint(raw)
	case *field.Enum:
		return decodeInto(r, v.Container(), order)
	case *field.Float:
		t := v.FloatType()
		if err := r.Align(t.Alignment()); err != nil {
			return err
		}
		raw, err := r.ReadBits(t.Size(), t.ByteOrder().Resolve(order))
		if err != nil {
			return err
		}
		if t.Size() == 32 {
			return v.SetFloat(float64(math.Float32frombits(uint32(raw))))
		}
		return v.SetFloat(math.Float64frombits(raw))
	case *field.String:
		if err := r.Align(v.Type().Alignment()); err != nil {
			return err
		}
		s, err := r.ReadCString()
		if err != nil {
			return err
		}
		return v.SetString(s)
	case *field.Array:
		if err := r.Align(v.Type().Alignment()); err != nil {
			return err
		}
		for i := 0; i < v.Len(); i++ {
			el, _ := v.At(i)
			if err := decodeInto(r, el, order); err != nil {
				return err
			}
		}
		return nil
	case *field.Struct:
		if err := r.Align(v.Type().Alignment()); err != nil {
			return err
		}
		for i := 0; i < v.Len(); i++ {
			child, _ := v.FieldAt(i)
			if err := decodeInto(r, child, order); err != nil {
				return err
			}
		}
		return nil
	}
	return ctferr.New(ctferr.KindInternalInconsistency, "decode field", "unknown field %T", f)
}
