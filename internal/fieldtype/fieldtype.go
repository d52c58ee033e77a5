package fieldtype

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/loykin/ctfwriter/internal/ctferr"
)

// ID tags the concrete variant of a Type.
type ID int

const (
	IDUnknown ID = iota
	IDInteger
	IDFloat
	IDString
	IDEnum
	IDArray
	IDStruct
)

func (id ID) String() string {
	switch id {
	case IDInteger:
		return "integer"
	case IDFloat:
		return "floating_point"
	case IDString:
		return "string"
	case IDEnum:
		return "enum"
	case IDArray:
		return "array"
	case IDStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// ByteOrder of a scalar type. Native resolves to the trace byte order.
type ByteOrder int

const (
	Native ByteOrder = iota
	LittleEndian
	BigEndian
	Network // alias of BigEndian in metadata and on the wire
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "le"
	case BigEndian:
		return "be"
	case Network:
		return "network"
	default:
		return "native"
	}
}

// Resolve maps Native onto trace and Network onto BigEndian.
func (o ByteOrder) Resolve(trace ByteOrder) ByteOrder {
	switch o {
	case Native:
		if trace == Native {
			return HostByteOrder()
		}
		return trace.Resolve(HostByteOrder())
	case Network:
		return BigEndian
	default:
		return o
	}
}

// HostByteOrder is the byte order of the running machine.
func HostByteOrder() ByteOrder {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return LittleEndian
	}
	return BigEndian
}

// ParseByteOrder accepts the metadata spellings used in configuration files.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch s {
	case "", "native":
		return Native, nil
	case "le", "little", "little_endian", "little-endian":
		return LittleEndian, nil
	case "be", "big", "big_endian", "big-endian":
		return BigEndian, nil
	case "network":
		return Network, nil
	}
	return Native, ctferr.New(ctferr.KindInvalidArgument, "parse byte order", "unknown byte order %q", s)
}

// Type is the schema of a field. The concrete variants are *Integer, *Float,
// *String, *Enum, *Array and *Struct; consumers switch on the concrete type.
type Type interface {
	ID() ID
	// Alignment in bits (1 or a multiple of 8).
	Alignment() uint
	Frozen() bool
	// Freeze makes the type and all of its children immutable.
	Freeze()
}

type base struct {
	align  uint
	frozen atomic.Bool
}

func (b *base) Frozen() bool { return b.frozen.Load() }

func (b *base) checkMutable(op string) error {
	if b.frozen.Load() {
		return ctferr.New(ctferr.KindFrozenSchema, op, "type is frozen")
	}
	return nil
}

func (b *base) setAlignment(op string, align uint) error {
	if err := b.checkMutable(op); err != nil {
		return err
	}
	if !validAlignment(align) {
		return ctferr.New(ctferr.KindInvalidArgument, op, "alignment %d must be 1 or a power-of-two multiple of 8", align)
	}
	b.align = align
	return nil
}

func validAlignment(a uint) bool {
	if a == 1 {
		return true
	}
	return a >= 8 && a&(a-1) == 0
}
