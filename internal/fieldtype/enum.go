package fieldtype

import (
	"math"

	"github.com/loykin/ctfwriter/internal/ctferr"
)

// Mapping labels the inclusive range [Start, End] of container values.
// For unsigned containers the bounds live in UStart/UEnd.
type Mapping struct {
	Name   string
	Signed bool
	Start  int64
	End    int64
	UStart uint64
	UEnd   uint64
}

func (m Mapping) overlaps(o Mapping) bool {
	if m.Signed {
		return m.Start <= o.End && o.Start <= m.End
	}
	return m.UStart <= o.UEnd && o.UStart <= m.UEnd
}

// Enum maps ranges of an integer container onto symbolic names. Only the
// container integer is ever written to a packet.
type Enum struct {
	base
	container *Integer
	mappings  []Mapping
}

// NewEnum wraps container, which must be an *Integer. The container is frozen
// since mappings are validated against its range.
func NewEnum(container Type) (*Enum, error) {
	it, ok := container.(*Integer)
	if !ok || it == nil {
		return nil, ctferr.New(ctferr.KindTypeMismatch, "new enum", "container must be an integer type")
	}
	it.Freeze()
	return &Enum{container: it}, nil
}

func (t *Enum) ID() ID              { return IDEnum }
func (t *Enum) Alignment() uint     { return t.container.Alignment() }
func (t *Enum) Container() *Integer { return t.container }
func (t *Enum) Freeze()             { t.frozen.Store(true) }
func (t *Enum) Mappings() []Mapping { return append([]Mapping(nil), t.mappings...) }
func (t *Enum) MappingCount() int   { return len(t.mappings) }

// AddMapping adds a signed range. On an unsigned container negative bounds
// are out of range.
func (t *Enum) AddMapping(name string, start, end int64) error {
	const op = "enum add mapping"
	if !t.container.Signed() {
		if start < 0 || end < 0 {
			return ctferr.New(ctferr.KindOutOfRange, op, "negative bound for unsigned container")
		}
		return t.AddMappingUnsigned(name, uint64(start), uint64(end))
	}
	if err := t.precheck(op, name); err != nil {
		return err
	}
	if start > end {
		return ctferr.New(ctferr.KindInvalidArgument, op, "range start %d > end %d", start, end)
	}
	if !t.container.FitsInt(start) || !t.container.FitsInt(end) {
		return ctferr.New(ctferr.KindOutOfRange, op, "range %d..%d exceeds %d-bit container", start, end, t.container.Size())
	}
	return t.insert(op, Mapping{Name: name, Signed: true, Start: start, End: end})
}

// AddMappingUnsigned adds an unsigned range, needed for 64-bit unsigned
// containers whose upper half does not fit in int64.
func (t *Enum) AddMappingUnsigned(name string, start, end uint64) error {
	const op = "enum add mapping"
	if t.container.Signed() {
		if start > math.MaxInt64 || end > math.MaxInt64 {
			return ctferr.New(ctferr.KindOutOfRange, op, "bound exceeds signed container")
		}
		return t.AddMapping(name, int64(start), int64(end))
	}
	if err := t.precheck(op, name); err != nil {
		return err
	}
	if start > end {
		return ctferr.New(ctferr.KindInvalidArgument, op, "range start %d > end %d", start, end)
	}
	if !t.container.FitsUint(end) {
		return ctferr.New(ctferr.KindOutOfRange, op, "range %d..%d exceeds %d-bit container", start, end, t.container.Size())
	}
	return t.insert(op, Mapping{Name: name, UStart: start, UEnd: end})
}

func (t *Enum) precheck(op, name string) error {
	if err := t.checkMutable(op); err != nil {
		return err
	}
	if name == "" {
		return ctferr.New(ctferr.KindInvalidArgument, op, "empty mapping name")
	}
	return nil
}

func (t *Enum) insert(op string, m Mapping) error {
	for _, e := range t.mappings {
		if e.overlaps(m) {
			return ctferr.New(ctferr.KindRangeConflict, op, "%q overlaps %q", m.Name, e.Name)
		}
	}
	t.mappings = append(t.mappings, m)
	return nil
}

// LabelsInt returns the names whose range contains v.
func (t *Enum) LabelsInt(v int64) []string {
	if !t.container.Signed() {
		if v < 0 {
			return nil
		}
		return t.LabelsUint(uint64(v))
	}
	var out []string
	for _, m := range t.mappings {
		if v >= m.Start && v <= m.End {
			out = append(out, m.Name)
		}
	}
	return out
}

// LabelsUint returns the names whose range contains v.
func (t *Enum) LabelsUint(v uint64) []string {
	if t.container.Signed() {
		if v > math.MaxInt64 {
			return nil
		}
		return t.LabelsInt(int64(v))
	}
	var out []string
	for _, m := range t.mappings {
		if v >= m.UStart && v <= m.UEnd {
			out = append(out, m.Name)
		}
	}
	return out
}
