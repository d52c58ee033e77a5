package packet

import (
	"github.com/loykin/ctfwriter/internal/field"
)

// Builder accumulates event records into one in-progress packet. The
// space for header and context is reserved up front and filled on Seal.
type Builder struct {
	layout   Layout
	w        BitWriter
	start    uint64
	header   *field.Struct
	context  *field.Struct
	evHeader *field.Struct

	count   uint64
	tsBegin uint64
	tsEnd   uint64
}

func NewBuilder(l Layout) *Builder {
	b := &Builder{
		layout:   l,
		header:   field.New(l.Header).(*field.Struct),
		context:  field.New(l.Context).(*field.Struct),
		evHeader: field.New(l.EventHeader).(*field.Struct),
	}
	var probe BitWriter
	Encode(&probe, b.header, l.Order)
	Encode(&probe, b.context, l.Order)
	probe.Align(8)
	b.start = probe.Pos()
	b.Reset()
	return b
}

func (b *Builder) Layout() Layout { return b.layout }

// Reset drops all buffered events.
func (b *Builder) Reset() {
	b.w.Reset(b.start)
	b.count, b.tsBegin, b.tsEnd = 0, 0, 0
}

// Count is the number of buffered events.
func (b *Builder) Count() uint64 { return b.count }

// ContentBits is the current packet content size including header and
// context.
func (b *Builder) ContentBits() uint64 { return b.w.Pos() }

// HeaderBits is the size of header and context.
func (b *Builder) HeaderBits() uint64 { return b.start }

// Append serializes one event record: header, then each non-nil section in
// order. When the packet already holds events and the record would take it
// past maxBits, nothing is written and Append returns false. maxBits of
// zero disables the limit.
func (b *Builder) Append(id uint32, ts uint64, maxBits uint64, sections ...*field.Struct) bool {
	m := b.w.Mark()
	setUint(b.evHeader, "id", uint64(id))
	setUint(b.evHeader, "timestamp", ts)
	Encode(&b.w, b.evHeader, b.layout.Order)
	for _, s := range sections {
		if s != nil {
			Encode(&b.w, s, b.layout.Order)
		}
	}
	if maxBits > 0 && b.count > 0 && b.w.Pos() > maxBits {
		b.w.Rewind(m)
		return false
	}
	if b.count == 0 || ts < b.tsBegin {
		b.tsBegin = ts
	}
	if ts > b.tsEnd {
		b.tsEnd = ts
	}
	b.count++
	return true
}

// Seal writes header and context into the reserved space and returns the
// packet bytes, valid until the next Reset. The packet size is the content
// size rounded up to a whole byte.
func (b *Builder) Seal(h Header, ctx Context) ([]byte, Context) {
	content := b.w.Pos()
	ctx.ContentSize = content
	ctx.PacketSize = (content + 7) &^ 7
	ctx.TimestampBegin = b.tsBegin
	ctx.TimestampEnd = b.tsEnd
	ctx.EventsCount = b.count
	b.w.Align(8)

	setUint(b.header, "magic", uint64(h.Magic))
	if err := b.header.SetField("uuid", h.UUID[:]); err != nil {
		panic(err)
	}
	setUint(b.header, "stream_id", uint64(h.StreamID))

	setUint(b.context, "timestamp_begin", ctx.TimestampBegin)
	setUint(b.context, "timestamp_end", ctx.TimestampEnd)
	setUint(b.context, "content_size", ctx.ContentSize)
	setUint(b.context, "packet_size", ctx.PacketSize)
	setUint(b.context, "events_discarded", ctx.EventsDiscarded)
	setUint(b.context, "events_count", ctx.EventsCount)
	setUint(b.context, "packet_seq_num", ctx.SeqNum)
	if _, err := b.context.Field("cpu_id"); err == nil {
		setUint(b.context, "cpu_id", uint64(ctx.CPUID))
	}

	var hw BitWriter
	Encode(&hw, b.header, b.layout.Order)
	Encode(&hw, b.context, b.layout.Order)
	hw.Align(8)
	data := b.w.Bytes()
	copy(data, hw.Bytes())
	return data, ctx
}
