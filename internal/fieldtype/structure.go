package fieldtype

import "github.com/loykin/ctfwriter/internal/ctferr"

// StructField is one named member of a Struct.
type StructField struct {
	Name string
	Type Type
}

// Struct is an ordered list of uniquely named fields. Its alignment is the
// largest of its own minimum (8 by default) and its fields' alignments.
type Struct struct {
	base
	fields []StructField
	index  map[string]int
}

func NewStruct() *Struct {
	t := &Struct{index: make(map[string]int)}
	t.align = 8
	return t
}

func (t *Struct) ID() ID { return IDStruct }

func (t *Struct) Alignment() uint {
	a := t.align
	for _, f := range t.fields {
		if fa := f.Type.Alignment(); fa > a {
			a = fa
		}
	}
	return a
}

// SetAlignment sets the minimum alignment.
func (t *Struct) SetAlignment(a uint) error { return t.setAlignment("struct set alignment", a) }

func (t *Struct) Freeze() {
	t.frozen.Store(true)
	for _, f := range t.fields {
		f.Type.Freeze()
	}
}

// AddField appends a member. The member type is frozen: value trees are
// shaped by it from now on.
func (t *Struct) AddField(ft Type, name string) error {
	const op = "struct add field"
	if err := t.checkMutable(op); err != nil {
		return err
	}
	if ft == nil {
		return ctferr.New(ctferr.KindInvalidArgument, op, "nil field type for %q", name)
	}
	if err := ValidateFieldName(name); err != nil {
		return err
	}
	if _, dup := t.index[name]; dup {
		return ctferr.New(ctferr.KindDuplicateField, op, "field %q already exists", name)
	}
	ft.Freeze()
	t.index[name] = len(t.fields)
	t.fields = append(t.fields, StructField{Name: name, Type: ft})
	return nil
}

func (t *Struct) FieldCount() int { return len(t.fields) }

func (t *Struct) FieldAt(i int) StructField { return t.fields[i] }

// Field looks up a member by name.
func (t *Struct) Field(name string) (Type, int, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, -1, false
	}
	return t.fields[i].Type, i, true
}

func (t *Struct) Fields() []StructField { return append([]StructField(nil), t.fields...) }
