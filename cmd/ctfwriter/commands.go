package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/loykin/ctfwriter"
)

type command struct {
	out io.Writer
	fs  afero.Fs // nil selects the OS file system
}

func (c command) fileSystem() afero.Fs {
	if c.fs == nil {
		return afero.NewOsFs()
	}
	return c.fs
}

// Write builds the configured trace and appends synthetic events to one
// stream per stream class.
func (c command) Write(f WriteFlags) error {
	if f.Events < 0 {
		return fmt.Errorf("events must not be negative")
	}
	fc, err := ctfwriter.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	w, err := ctfwriter.OpenConfig(fc, c.fileSystem(), f.OutDir)
	if err != nil {
		return err
	}
	total, err := writeSynthetic(w, f.Events)
	if cerr := w.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %d events to %s\n", total, w.Path())
	return nil
}

func writeSynthetic(w *ctfwriter.Writer, perClass int) (int, error) {
	total := 0
	for _, sc := range w.StreamClasses() {
		s, err := w.CreateStream(sc)
		if err != nil {
			return total, err
		}
		clk := sc.Clock()
		for i := 0; i < perClass; i++ {
			for _, ec := range sc.EventClasses() {
				e, err := ctfwriter.NewEvent(ec)
				if err != nil {
					return total, err
				}
				if err := fillEvent(e, i); err != nil {
					return total, fmt.Errorf("event class %q: %w", ec.Name(), err)
				}
				if clk != nil && !clk.RealTime() {
					if err := clk.SetTime(clk.Time() + 1); err != nil {
						return total, err
					}
				}
				if err := s.AppendEvent(e); err != nil {
					return total, err
				}
				total++
			}
		}
	}
	return total, nil
}

// Metadata prints the metadata of the configured trace without writing
// anything to disk.
func (c command) Metadata(f MetadataFlags) error {
	fc, err := ctfwriter.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fc.History = nil
	w, err := ctfwriter.OpenConfig(fc, afero.NewMemMapFs(), "/trace")
	if err != nil {
		return err
	}
	_, _ = io.WriteString(c.out, w.Metadata())
	return w.Close()
}

type packetRow struct {
	Index          int     `json:"index"`
	Offset         int64   `json:"offset"`
	UUID           string  `json:"uuid"`
	StreamID       uint32  `json:"stream_id"`
	Seq            uint64  `json:"packet_seq_num"`
	Events         uint64  `json:"events_count"`
	Discarded      uint64  `json:"events_discarded"`
	ContentSize    uint64  `json:"content_size"`
	PacketSize     uint64  `json:"packet_size"`
	TimestampBegin uint64  `json:"timestamp_begin"`
	TimestampEnd   uint64  `json:"timestamp_end"`
	CPUID          *uint32 `json:"cpu_id,omitempty"`
}

// Inspect lists the packets of a stream file.
func (c command) Inspect(f InspectFlags) error {
	order, err := ctfwriter.ParseByteOrder(f.ByteOrder)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(c.fileSystem(), f.File)
	if err != nil {
		return err
	}
	dec := ctfwriter.NewRawPacketDecoder(data, order, f.CPUID)
	var rows []packetRow
	for i := 0; ; i++ {
		p, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: packet %d: %w", f.File, i, err)
		}
		row := packetRow{
			Index:          i,
			Offset:         p.Offset,
			UUID:           p.UUIDString(),
			StreamID:       p.Header.StreamID,
			Seq:            p.Context.SeqNum,
			Events:         p.Context.EventsCount,
			Discarded:      p.Context.EventsDiscarded,
			ContentSize:    p.Context.ContentSize,
			PacketSize:     p.Context.PacketSize,
			TimestampBegin: p.Context.TimestampBegin,
			TimestampEnd:   p.Context.TimestampEnd,
		}
		if f.CPUID {
			cpu := p.Context.CPUID
			row.CPUID = &cpu
		}
		rows = append(rows, row)
	}
	if f.JSON {
		return c.printJSON(rows)
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(c.out, "packet %d offset=%d stream_id=%d seq=%d events=%d discarded=%d content=%d packet=%d ts=[%d, %d]",
			r.Index, r.Offset, r.StreamID, r.Seq, r.Events, r.Discarded, r.ContentSize, r.PacketSize, r.TimestampBegin, r.TimestampEnd)
		if r.CPUID != nil {
			_, _ = fmt.Fprintf(c.out, " cpu_id=%d", *r.CPUID)
		}
		_, _ = fmt.Fprintln(c.out)
	}
	_, _ = fmt.Fprintf(c.out, "%d packets\n", len(rows))
	return nil
}
