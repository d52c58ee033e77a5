package packet

import (
	"github.com/google/uuid"

	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Magic opens every packet.
const Magic uint32 = 0xC1FC1FC1

// Header is the trace packet header.
type Header struct {
	Magic    uint32
	UUID     uuid.UUID
	StreamID uint32
}

// Context is the stream packet context. Sizes are in bits.
type Context struct {
	TimestampBegin  uint64
	TimestampEnd    uint64
	ContentSize     uint64
	PacketSize      uint64
	EventsDiscarded uint64
	EventsCount     uint64
	SeqNum          uint64
	CPUID           uint32
}

func uintType(size uint, clockName string) *fieldtype.Integer {
	t, err := fieldtype.NewInteger(size)
	if err != nil {
		panic(err)
	}
	if clockName != "" {
		if err := t.SetMappedClock(clockName); err != nil {
			panic(err)
		}
	}
	return t
}

func mustAdd(s *fieldtype.Struct, t fieldtype.Type, name string) {
	if err := s.AddField(t, name); err != nil {
		panic(err)
	}
}

// HeaderType is struct { uint32 magic; uint8 uuid[16]; uint32 stream_id; }.
func HeaderType() *fieldtype.Struct {
	s := fieldtype.NewStruct()
	mustAdd(s, uintType(32, ""), "magic")
	u8arr, err := fieldtype.NewArray(uintType(8, ""), 16)
	if err != nil {
		panic(err)
	}
	mustAdd(s, u8arr, "uuid")
	mustAdd(s, uintType(32, ""), "stream_id")
	return s
}

// ContextType is the packet context of a stream class. Timestamps map to
// clockName when set; cpu_id is present only when cpuID is true.
func ContextType(clockName string, cpuID bool) *fieldtype.Struct {
	s := fieldtype.NewStruct()
	mustAdd(s, uintType(64, clockName), "timestamp_begin")
	mustAdd(s, uintType(64, clockName), "timestamp_end")
	mustAdd(s, uintType(64, ""), "content_size")
	mustAdd(s, uintType(64, ""), "packet_size")
	mustAdd(s, uintType(64, ""), "events_discarded")
	mustAdd(s, uintType(64, ""), "events_count")
	mustAdd(s, uintType(64, ""), "packet_seq_num")
	if cpuID {
		mustAdd(s, uintType(32, ""), "cpu_id")
	}
	return s
}

// Layout fixes the types and byte order a stream's packets are written
// with. Order must be resolved (LittleEndian or BigEndian).
type Layout struct {
	Order       fieldtype.ByteOrder
	Header      *fieldtype.Struct
	Context     *fieldtype.Struct
	EventHeader *fieldtype.Struct
}

// DefaultLayout builds the standard header, context and event header types.
func DefaultLayout(order fieldtype.ByteOrder, clockName string, cpuID bool) Layout {
	return Layout{
		Order:       order.Resolve(fieldtype.Native),
		Header:      HeaderType(),
		Context:     ContextType(clockName, cpuID),
		EventHeader: EventHeaderType(clockName),
	}
}

// EventHeaderType is struct { uint32 id; uint64 timestamp; }.
func EventHeaderType(clockName string) *fieldtype.Struct {
	s := fieldtype.NewStruct()
	mustAdd(s, uintType(32, ""), "id")
	mustAdd(s, uintType(64, clockName), "timestamp")
	return s
}

func setUint(s *field.Struct, name string, v uint64) {
	f, err := s.Field(name)
	if err != nil {
		panic(err)
	}
	if err := f.(*field.Integer).SetUint(v); err != nil {
		panic(err)
	}
}

func getUint(s *field.Struct, name string) uint64 {
	f, err := s.Field(name)
	if err != nil {
		return 0
	}
	return f.(*field.Integer).Uint()
}
