package packet

import (
	"io"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
)

// Packet is one sealed packet read back from a stream file.
type Packet struct {
	Offset  int64
	Header  Header
	Context Context

	data   []byte
	start  uint64
	layout Layout
}

// EventLayout is the per-class schema needed to decode event records.
// Nil sections are absent.
type EventLayout struct {
	StreamContext *fieldtype.Struct
	Context       *fieldtype.Struct
	Payload       *fieldtype.Struct
}

// Record is one decoded event.
type Record struct {
	ID            uint32
	Timestamp     uint64
	StreamContext *field.Struct
	Context       *field.Struct
	Payload       *field.Struct
}

// Decoder walks the packets of a stream file.
type Decoder struct {
	layout Layout
	data   []byte
	off    int64
}

func NewDecoder(data []byte, l Layout) *Decoder {
	return &Decoder{layout: l, data: data}
}

// Next returns the next packet, or io.EOF after the last one.
func (d *Decoder) Next() (*Packet, error) {
	const op = "decode packet"
	if d.off >= int64(len(d.data)) {
		return nil, io.EOF
	}
	rest := d.data[d.off:]
	r := NewBitReader(rest, 0, uint64(len(rest))*8)
	hdr, err := Decode(r, d.layout.Header, d.layout.Order)
	if err != nil {
		return nil, err
	}
	ctx, err := Decode(r, d.layout.Context, d.layout.Order)
	if err != nil {
		return nil, err
	}
	if err := r.Align(8); err != nil {
		return nil, err
	}
	hs, cs := hdr.(*field.Struct), ctx.(*field.Struct)

	p := &Packet{Offset: d.off, start: r.Pos(), layout: d.layout}
	p.Header.Magic = uint32(getUint(hs, "magic"))
	if p.Header.Magic != Magic {
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "bad magic %#x at offset %d", p.Header.Magic, d.off)
	}
	uf, _ := hs.Field("uuid")
	for i, v := range uf.Value().([]any) {
		p.Header.UUID[i] = byte(v.(uint64))
	}
	p.Header.StreamID = uint32(getUint(hs, "stream_id"))
	p.Context = Context{
		TimestampBegin:  getUint(cs, "timestamp_begin"),
		TimestampEnd:    getUint(cs, "timestamp_end"),
		ContentSize:     getUint(cs, "content_size"),
		PacketSize:      getUint(cs, "packet_size"),
		EventsDiscarded: getUint(cs, "events_discarded"),
		EventsCount:     getUint(cs, "events_count"),
		SeqNum:          getUint(cs, "packet_seq_num"),
		CPUID:           uint32(getUint(cs, "cpu_id")),
	}
	size := p.Context.PacketSize / 8
	if p.Context.PacketSize%8 != 0 || size == 0 || size > uint64(len(rest)) ||
		p.Context.ContentSize > p.Context.PacketSize || p.Context.ContentSize < p.start {
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "inconsistent sizes at offset %d: content %d, packet %d bits",
			d.off, p.Context.ContentSize, p.Context.PacketSize)
	}
	p.data = rest[:size]
	d.off += int64(size)
	return p, nil
}

// UUIDString is the trace UUID in canonical form.
func (p *Packet) UUIDString() string { return p.Header.UUID.String() }

// Events decodes every event record of the packet. lookup resolves an
// event id to its schema.
func (p *Packet) Events(lookup func(id uint32) (EventLayout, bool)) ([]Record, error) {
	r := NewBitReader(p.data, p.start, p.Context.ContentSize)
	var out []Record
	for r.Pos() < p.Context.ContentSize {
		hf, err := Decode(r, p.layout.EventHeader, p.layout.Order)
		if err != nil {
			return out, err
		}
		hs := hf.(*field.Struct)
		rec := Record{ID: uint32(getUint(hs, "id")), Timestamp: getUint(hs, "timestamp")}
		el, ok := lookup(rec.ID)
		if !ok {
			return out, ctferr.New(ctferr.KindNoSuchField, "decode event", "unknown event id %d", rec.ID)
		}
		sections := []struct {
			t   *fieldtype.Struct
			dst **field.Struct
		}{
			{el.StreamContext, &rec.StreamContext},
			{el.Context, &rec.Context},
			{el.Payload, &rec.Payload},
		}
		for _, s := range sections {
			if s.t == nil {
				continue
			}
			f, err := Decode(r, s.t, p.layout.Order)
			if err != nil {
				return out, err
			}
			*s.dst = f.(*field.Struct)
		}
		out = append(out, rec)
	}
	return out, nil
}
