package stream

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/event"
	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/history"
	"github.com/loykin/ctfwriter/internal/logger"
	"github.com/loykin/ctfwriter/internal/metrics"
	"github.com/loykin/ctfwriter/internal/packet"
)

// Options configures a stream opened by a writer.
type Options struct {
	Fs        afero.Fs
	Dir       string
	TraceUUID uuid.UUID
	// Order is the trace byte order; native types resolve to it.
	Order fieldtype.ByteOrder
	// MaxPacketSize bounds a packet in bytes. Zero means unbounded.
	MaxPacketSize uint64
	// Fsync syncs packets sealed by the size limit too.
	Fsync  bool
	Logger *slog.Logger
	Sinks  []history.Sink
	// OnFlush runs after an explicit Flush persisted a packet.
	OnFlush func() error
}

// Stream writes the events of one stream class into one data file, one
// packet at a time. A stream must be driven by a single goroutine.
type Stream struct {
	class   *Class
	opts    Options
	log     *slog.Logger
	path    string
	file    afero.File
	builder *packet.Builder
	maxBits uint64

	offset    int64
	seq       uint64
	events    uint64
	discarded uint64
	cpuID     uint32

	failed error
	closed bool
}

// Open freezes c and creates its next data file, named after the class
// and a per-class counter.
func Open(c *Class, opts Options) (*Stream, error) {
	const op = "open stream"
	if c == nil {
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "nil stream class")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	layout := c.Freeze(opts.Order)
	path := filepath.Join(opts.Dir, c.Name()+"_"+strconv.Itoa(c.nextStreamIndex()))
	f, err := opts.Fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		metrics.IncIOFailure(c.Name(), "create")
		return nil, ctferr.IO(op, path, err)
	}
	s := &Stream{
		class:   c,
		opts:    opts,
		path:    path,
		file:    f,
		builder: packet.NewBuilder(layout),
		maxBits: opts.MaxPacketSize * 8,
	}
	id, _ := c.ID()
	s.log = opts.Logger.With(slog.String(logger.AttrStreamClass, c.Name()), slog.Uint64(logger.AttrStreamID, uint64(id)), slog.String("path", path))
	metrics.AddOpenStreams(c.Name(), 1)
	s.record(history.EventStreamOpen, history.Record{})
	s.log.Info("stream opened")
	return s, nil
}

func (s *Stream) Class() *Class { return s.class }

// Path is the data file of the stream.
func (s *Stream) Path() string { return s.path }

// EventCount is the number of events appended so far.
func (s *Stream) EventCount() uint64 { return s.events }

// PacketCount is the number of packets written so far.
func (s *Stream) PacketCount() uint64 { return s.seq }

// Buffered is the number of events in the unsealed packet.
func (s *Stream) Buffered() uint64 { return s.builder.Count() }

// Discarded is the running total reported in events_discarded.
func (s *Stream) Discarded() uint64 { return s.discarded }

// Err returns the failure that locked the stream, if any.
func (s *Stream) Err() error { return s.failed }

// SetCPUID sets the cpu_id written into packet contexts of classes that
// declare one.
func (s *Stream) SetCPUID(id uint32) { s.cpuID = id }

// DiscardEvents adds n to the discarded counter of subsequent packets.
func (s *Stream) DiscardEvents(n uint64) {
	s.discarded += n
	metrics.AddDiscarded(s.class.Name(), n)
}

func (s *Stream) usable(op string) error {
	if s.closed {
		return ctferr.New(ctferr.KindInvalidArgument, op, "stream %s is closed", s.path)
	}
	if s.failed != nil {
		return &ctferr.Error{Kind: ctferr.KindStreamFailed, Op: op, Path: s.path, Err: s.failed}
	}
	return nil
}

// AppendEvent serializes e into the current packet. The packet is sealed
// and written first if e does not fit, and right after if e filled it.
func (s *Stream) AppendEvent(e *event.Event) error {
	const op = "stream append event"
	if err := s.usable(op); err != nil {
		return err
	}
	if e == nil {
		return ctferr.New(ctferr.KindInvalidArgument, op, "nil event")
	}
	ec := e.Class()
	if ec.Owner() != s.class {
		return ctferr.New(ctferr.KindForeignEventClass, op, "event class %q is not part of stream class %q", ec.Name(), s.class.Name())
	}
	if e.StreamContextType() != s.class.EventContextType() {
		return ctferr.New(ctferr.KindForeignEventClass, op, "event was built against another event context of stream class %q", s.class.Name())
	}

	if !e.MarkAppended() {
		return ctferr.New(ctferr.KindFrozenSchema, op, "event of class %q was already appended", ec.Name())
	}

	id, _ := ec.ID()
	ts, ok := e.ClockValue()
	if !ok {
		if clk := s.class.Clock(); clk != nil {
			ts = clk.Time()
		}
	}
	sc, _ := e.StreamContext()
	cx, _ := e.Context()
	sections := []*field.Struct{sc, cx, e.Payload()}

	if !s.builder.Append(uint32(id), ts, s.maxBits, sections...) {
		if err := s.writePacket(s.opts.Fsync); err != nil {
			return err
		}
		s.builder.Append(uint32(id), ts, s.maxBits, sections...)
	}
	s.events++
	metrics.IncEvents(s.class.Name())
	if s.maxBits > 0 && s.builder.ContentBits() >= s.maxBits {
		return s.writePacket(s.opts.Fsync)
	}
	return nil
}

// Flush seals the current packet and syncs the data file, returning once
// the packet is durable. Without buffered events it does nothing.
func (s *Stream) Flush() error {
	if err := s.usable("stream flush"); err != nil {
		return err
	}
	if s.builder.Count() == 0 {
		return nil
	}
	if err := s.writePacket(true); err != nil {
		return err
	}
	if s.opts.OnFlush != nil {
		return s.opts.OnFlush()
	}
	return nil
}

func (s *Stream) writePacket(sync bool) error {
	const op = "stream write packet"
	id, _ := s.class.ID()
	hdr := packet.Header{Magic: packet.Magic, UUID: s.opts.TraceUUID, StreamID: id}
	data, pc := s.builder.Seal(hdr, packet.Context{
		EventsDiscarded: s.discarded,
		SeqNum:          s.seq,
		CPUID:           s.cpuID,
	})

	start := time.Now()
	if _, err := s.file.WriteAt(data, s.offset); err != nil {
		return s.fail(ctferr.IO(op, s.path, err), "write")
	}
	if sync {
		if err := s.file.Sync(); err != nil {
			return s.fail(ctferr.IO(op, s.path, err), "sync")
		}
	}
	metrics.ObservePacket(s.class.Name(), len(data), time.Since(start).Seconds())

	rec := history.Record{
		PacketSeq:      pc.SeqNum,
		Offset:         s.offset,
		PacketSize:     pc.PacketSize,
		ContentSize:    pc.ContentSize,
		TimestampBegin: pc.TimestampBegin,
		TimestampEnd:   pc.TimestampEnd,
		Events:         pc.EventsCount,
		Discarded:      pc.EventsDiscarded,
	}
	s.offset += int64(len(data))
	s.seq++
	s.builder.Reset()
	s.log.Debug("packet sealed",
		slog.Uint64(logger.AttrPacketSeq, pc.SeqNum),
		slog.Uint64("events", pc.EventsCount),
		slog.Uint64("content_size", pc.ContentSize))
	s.record(history.EventPacketSealed, rec)
	return nil
}

func (s *Stream) fail(err *ctferr.Error, what string) error {
	s.failed = err
	metrics.IncIOFailure(s.class.Name(), what)
	s.log.Error("stream failed", slog.Uint64(logger.AttrPacketSeq, s.seq), slog.Any("error", err))
	s.record(history.EventStreamFailed, history.Record{PacketSeq: s.seq, Offset: s.offset, Error: err.Error()})
	return err
}

// Reset clears a failure, drops the unsealed packet and truncates the
// file back to the last packet written in full.
func (s *Stream) Reset() error {
	if s.closed {
		return ctferr.New(ctferr.KindInvalidArgument, "stream reset", "stream %s is closed", s.path)
	}
	s.builder.Reset()
	if err := s.file.Truncate(s.offset); err != nil {
		return ctferr.IO("stream reset", s.path, err)
	}
	s.failed = nil
	return nil
}

// Close flushes buffered events and closes the data file. The file is
// closed even when the flush fails.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.failed == nil {
		err = s.Flush()
	} else {
		err = s.usable("stream close")
	}
	s.closed = true
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = ctferr.IO("stream close", s.path, cerr)
	}
	metrics.AddOpenStreams(s.class.Name(), -1)
	rec := history.Record{PacketSeq: s.seq, Offset: s.offset, Discarded: s.discarded}
	if err != nil {
		rec.Error = err.Error()
	}
	s.record(history.EventStreamClose, rec)
	s.log.Info("stream closed", slog.Uint64("packets", s.seq), slog.Uint64("events", s.events))
	return err
}

// record fills in the stream identity and broadcasts to the history
// sinks. Sink failures are logged and never fail the stream.
func (s *Stream) record(t history.EventType, rec history.Record) {
	if len(s.opts.Sinks) == 0 {
		return
	}
	rec.TraceUUID = s.opts.TraceUUID.String()
	rec.StreamClass = s.class.Name()
	rec.StreamID, _ = s.class.ID()
	rec.File = filepath.Base(s.path)
	ev := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	if err := history.Broadcast(context.Background(), s.opts.Sinks, ev); err != nil {
		s.log.Warn("history sink failed", slog.String("event", string(t)), slog.Any("error", err))
	}
}
