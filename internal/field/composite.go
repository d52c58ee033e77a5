package field

import (
	"reflect"
	"sort"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Enum wraps an integer container. Values outside every mapping are
// accepted; labels are resolved for display only.
type Enum struct {
	lock
	typ       *fieldtype.Enum
	container *Integer
}

func (f *Enum) Freeze() {
	f.frozen.Store(true)
	f.container.Freeze()
}

func (f *Enum) Type() fieldtype.Type      { return f.typ }
func (f *Enum) EnumType() *fieldtype.Enum { return f.typ }
func (f *Enum) Container() *Integer       { return f.container }
func (f *Enum) SetInt(v int64) error      { return f.container.SetInt(v) }
func (f *Enum) SetUint(v uint64) error    { return f.container.SetUint(v) }
func (f *Enum) Value() any                { return f.container.Value() }

// Set accepts an integer or a mapping label; a label selects the start of
// its first range.
func (f *Enum) Set(v any) error {
	if err := f.check("set enum"); err != nil {
		return err
	}
	label, ok := v.(string)
	if !ok {
		return f.container.Set(v)
	}
	for _, m := range f.typ.Mappings() {
		if m.Name != label {
			continue
		}
		if m.Signed {
			return f.container.SetInt(m.Start)
		}
		return f.container.SetUint(m.UStart)
	}
	return ctferr.New(ctferr.KindNoSuchField, "set enum", "no mapping named %q", label)
}

// Labels returns the names of all mappings covering the current value.
func (f *Enum) Labels() []string {
	if f.typ.Container().Signed() {
		return f.typ.LabelsInt(f.container.Int())
	}
	return f.typ.LabelsUint(f.container.Uint())
}

// Array is a fixed-length sequence of element fields.
type Array struct {
	lock
	typ   *fieldtype.Array
	elems []Field
}

func (f *Array) Freeze() {
	f.frozen.Store(true)
	for _, e := range f.elems {
		e.Freeze()
	}
}

func (f *Array) Type() fieldtype.Type        { return f.typ }
func (f *Array) ArrayType() *fieldtype.Array { return f.typ }
func (f *Array) Len() int                    { return len(f.elems) }

// At returns the element at index i.
func (f *Array) At(i int) (Field, error) {
	if i < 0 || i >= len(f.elems) {
		return nil, ctferr.New(ctferr.KindIndexOutOfBounds, "array element", "index %d not in [0,%d)", i, len(f.elems))
	}
	return f.elems[i], nil
}

// Set assigns every element from a slice or array of the declared length.
// Either all elements are assigned or none is.
func (f *Array) Set(v any) error {
	const op = "set array"
	if err := f.check(op); err != nil {
		return err
	}
	if err := clone(f).(*Array).assign(v); err != nil {
		return err
	}
	return f.assign(v)
}

func (f *Array) assign(v any) error {
	const op = "set array"
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return mismatch(op, fieldtype.IDArray, v)
	}
	if rv.Len() != len(f.elems) {
		return ctferr.New(ctferr.KindIndexOutOfBounds, op, "got %d elements, array holds %d", rv.Len(), len(f.elems))
	}
	for i := range f.elems {
		if err := f.elems[i].Set(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (f *Array) Value() any {
	out := make([]any, len(f.elems))
	for i, e := range f.elems {
		out[i] = e.Value()
	}
	return out
}

// Struct holds one child field per member of its structure type, in
// declaration order.
type Struct struct {
	lock
	typ    *fieldtype.Struct
	fields []Field
}

func (f *Struct) Freeze() {
	f.frozen.Store(true)
	for _, c := range f.fields {
		c.Freeze()
	}
}

func (f *Struct) Type() fieldtype.Type          { return f.typ }
func (f *Struct) StructType() *fieldtype.Struct { return f.typ }
func (f *Struct) Len() int                      { return len(f.fields) }

// Field looks up a member by name.
func (f *Struct) Field(name string) (Field, error) {
	_, idx, ok := f.typ.Field(name)
	if !ok {
		return nil, ctferr.New(ctferr.KindNoSuchField, "struct field", "no field named %q", name)
	}
	return f.fields[idx], nil
}

// FieldAt returns the member at declaration index i.
func (f *Struct) FieldAt(i int) (Field, error) {
	if i < 0 || i >= len(f.fields) {
		return nil, ctferr.New(ctferr.KindIndexOutOfBounds, "struct field", "index %d not in [0,%d)", i, len(f.fields))
	}
	return f.fields[i], nil
}

// SetField is Field(name) followed by Set(v).
func (f *Struct) SetField(name string, v any) error {
	child, err := f.Field(name)
	if err != nil {
		return err
	}
	return child.Set(v)
}

// Set assigns members from a map keyed by field name. Members absent from
// the map keep their value. Either all listed members are assigned or none
// is.
func (f *Struct) Set(v any) error {
	if err := f.check("set struct"); err != nil {
		return err
	}
	if err := clone(f).(*Struct).assign(v); err != nil {
		return err
	}
	return f.assign(v)
}

func (f *Struct) assign(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return mismatch("set struct", fieldtype.IDStruct, v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := f.SetField(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Struct) Value() any {
	out := make(map[string]any, len(f.fields))
	for i, c := range f.fields {
		out[f.typ.FieldAt(i).Name] = c.Value()
	}
	return out
}

// clone deep-copies a value tree. The copy is never frozen.
func clone(f Field) Field {
	switch v := f.(type) {
	case *Integer:
		return &Integer{typ: v.typ, raw: v.raw}
	case *Float:
		return &Float{typ: v.typ, v: v.v}
	case *String:
		return &String{typ: v.typ, v: v.v}
	case *Enum:
		return &Enum{typ: v.typ, container: clone(v.container).(*Integer)}
	case *Array:
		a := &Array{typ: v.typ, elems: make([]Field, len(v.elems))}
		for i, e := range v.elems {
			a.elems[i] = clone(e)
		}
		return a
	case *Struct:
		s := &Struct{typ: v.typ, fields: make([]Field, len(v.fields))}
		for i, c := range v.fields {
			s.fields[i] = clone(c)
		}
		return s
	}
	panic(ctferr.New(ctferr.KindInternalInconsistency, "clone field", "unknown field %T", f))
}
