package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/ctfwriter/internal/clock"
	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/env"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/history"
	"github.com/loykin/ctfwriter/internal/metrics"
	"github.com/loykin/ctfwriter/internal/packet"
	"github.com/loykin/ctfwriter/internal/stream"
)

const (
	// MetadataFile is the name of the metadata file in the trace directory.
	MetadataFile = "metadata"
	// DefaultMaxPacketSize bounds packets when Options leaves it unset.
	DefaultMaxPacketSize uint64 = 64 << 10
)

// Options configures a Writer. The zero value writes to the OS file
// system in native byte order.
type Options struct {
	Fs        afero.Fs
	ByteOrder fieldtype.ByteOrder
	// MaxPacketSize is in bytes; zero selects DefaultMaxPacketSize.
	MaxPacketSize uint64
	// Fsync also syncs packets sealed because they reached MaxPacketSize.
	// Stream.Flush and Close always sync.
	Fsync     bool
	TraceUUID uuid.UUID
	Logger    *slog.Logger
	// Sinks receive stream history. The writer closes them on Close.
	Sinks []history.Sink
}

// Writer owns one trace directory: its clocks, stream classes, streams
// and environment. Configure it fully before creating streams.
type Writer struct {
	mu     sync.Mutex
	metaMu sync.Mutex
	path   string
	fs     afero.Fs
	opts   Options
	log    *slog.Logger
	order  fieldtype.ByteOrder
	uuid   uuid.UUID
	env    *env.Env

	clocks      []*clock.Clock
	clockByName map[string]*clock.Clock
	classes     []*stream.Class
	classByName map[string]*stream.Class
	classByID   map[uint32]*stream.Class
	streams     []*stream.Stream

	locked bool
	closed bool
}

// New creates the trace directory at path.
func New(path string, opts Options) (*Writer, error) {
	const op = "new writer"
	if strings.TrimSpace(path) == "" {
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "empty trace directory")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = DefaultMaxPacketSize
	}
	if opts.TraceUUID == uuid.Nil {
		opts.TraceUUID = uuid.New()
	}
	if err := opts.Fs.MkdirAll(path, 0o755); err != nil {
		return nil, ctferr.IO(op, path, err)
	}
	w := &Writer{
		path:        path,
		fs:          opts.Fs,
		opts:        opts,
		order:       opts.ByteOrder,
		uuid:        opts.TraceUUID,
		env:         env.New(),
		clockByName: make(map[string]*clock.Clock),
		classByName: make(map[string]*stream.Class),
		classByID:   make(map[uint32]*stream.Class),
	}
	w.log = opts.Logger.With(slog.String("trace", path))
	return w, nil
}

func (w *Writer) Path() string    { return w.path }
func (w *Writer) UUID() uuid.UUID { return w.uuid }
func (w *Writer) Env() *env.Env   { return w.env }

// ByteOrder is the resolved trace byte order.
func (w *Writer) ByteOrder() fieldtype.ByteOrder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Resolve(fieldtype.Native)
}

// SetByteOrder changes the trace byte order until the first stream is
// created.
func (w *Writer) SetByteOrder(o fieldtype.ByteOrder) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked {
		return ctferr.New(ctferr.KindFrozenSchema, "writer set byte order", "streams already exist")
	}
	if o < fieldtype.Native || o > fieldtype.Network {
		return ctferr.New(ctferr.KindInvalidArgument, "writer set byte order", "unknown byte order %d", int(o))
	}
	w.order = o
	return nil
}

// AddEnvironmentField upserts an env entry. v is a string or an integer.
func (w *Writer) AddEnvironmentField(key string, v any) error {
	return w.env.Set(key, v)
}

// AddClock registers c under its name.
func (w *Writer) AddClock(c *clock.Clock) error {
	if c == nil {
		return ctferr.New(ctferr.KindInvalidArgument, "writer add clock", "nil clock")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addClockLocked(c)
}

func (w *Writer) addClockLocked(c *clock.Clock) error {
	if have, ok := w.clockByName[c.Name()]; ok {
		if have == c {
			return ctferr.New(ctferr.KindDuplicateName, "writer add clock", "clock %q is already registered", c.Name())
		}
		return ctferr.New(ctferr.KindDuplicateName, "writer add clock", "another clock is named %q", c.Name())
	}
	w.clocks = append(w.clocks, c)
	w.clockByName[c.Name()] = c
	return nil
}

func (w *Writer) Clock(name string) (*clock.Clock, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clockByName[name]
	if !ok {
		return nil, ctferr.New(ctferr.KindNoSuchField, "writer clock", "no clock %q", name)
	}
	return c, nil
}

func (w *Writer) Clocks() []*clock.Clock {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*clock.Clock(nil), w.clocks...)
}

// AddStreamClass registers sc. Without a caller id, the lowest unused
// stream id is assigned.
func (w *Writer) AddStreamClass(sc *stream.Class) error {
	if sc == nil {
		return ctferr.New(ctferr.KindInvalidArgument, "writer add stream class", "nil stream class")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addStreamClassLocked(sc)
}

func (w *Writer) addStreamClassLocked(sc *stream.Class) error {
	const op = "writer add stream class"
	if _, dup := w.classByName[sc.Name()]; dup {
		return ctferr.New(ctferr.KindDuplicateName, op, "stream class %q is already registered", sc.Name())
	}
	id, ok := sc.ID()
	if ok {
		if other, dup := w.classByID[id]; dup {
			return ctferr.New(ctferr.KindDuplicateID, op, "stream id %d is taken by %q", id, other.Name())
		}
	} else {
		for w.classByID[id] != nil {
			id++
		}
		if err := sc.SetID(id); err != nil {
			return err
		}
	}
	w.classes = append(w.classes, sc)
	w.classByName[sc.Name()] = sc
	w.classByID[id] = sc
	return nil
}

func (w *Writer) StreamClass(name string) (*stream.Class, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.classByName[name]
	if !ok {
		return nil, ctferr.New(ctferr.KindNoSuchField, "writer stream class", "no stream class %q", name)
	}
	return sc, nil
}

func (w *Writer) StreamClasses() []*stream.Class {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*stream.Class(nil), w.classes...)
}

// Streams returns the streams created so far.
func (w *Writer) Streams() []*stream.Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*stream.Stream(nil), w.streams...)
}

// CreateStream opens a new stream of sc, registering sc and its clock
// first if needed. The first stream fixes the byte order; every stream
// freezes its class.
func (w *Writer) CreateStream(sc *stream.Class) (*stream.Stream, error) {
	const op = "writer create stream"
	if sc == nil {
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "nil stream class")
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ctferr.New(ctferr.KindInvalidArgument, op, "writer is closed")
	}
	if have, ok := w.classByName[sc.Name()]; ok && have != sc {
		w.mu.Unlock()
		return nil, ctferr.New(ctferr.KindDuplicateName, op, "another stream class is named %q", sc.Name())
	} else if !ok {
		if err := w.addStreamClassLocked(sc); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	if clk := sc.Clock(); clk != nil && w.clockByName[clk.Name()] != clk {
		if err := w.addClockLocked(clk); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	w.locked = true
	order := w.order.Resolve(fieldtype.Native)
	w.mu.Unlock()

	s, err := stream.Open(sc, stream.Options{
		Fs:            w.fs,
		Dir:           w.path,
		TraceUUID:     w.uuid,
		Order:         order,
		MaxPacketSize: w.opts.MaxPacketSize,
		Fsync:         w.opts.Fsync,
		Logger:        w.opts.Logger,
		Sinks:         w.opts.Sinks,
		OnFlush:       w.FlushMetadata,
	})
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.streams = append(w.streams, s)
	w.mu.Unlock()
	if err := w.FlushMetadata(); err != nil {
		return s, err
	}
	return s, nil
}

// Metadata renders the trace description: every clock, stream class and
// event class registered so far, streams or not.
func (w *Writer) Metadata() string {
	w.mu.Lock()
	order := w.order.Resolve(fieldtype.Native)
	clocks := append([]*clock.Clock(nil), w.clocks...)
	classes := append([]*stream.Class(nil), w.classes...)
	w.mu.Unlock()

	var b strings.Builder
	b.WriteString("/* CTF 1.8 */\n\n")
	b.WriteString("trace {\n")
	b.WriteString("\tmajor = 1;\n")
	b.WriteString("\tminor = 8;\n")
	fmt.Fprintf(&b, "\tuuid = \"%s\";\n", w.uuid)
	fmt.Fprintf(&b, "\tbyte_order = %s;\n", order)
	fmt.Fprintf(&b, "\tpacket.header := %s;\n", fieldtype.Declaration(packet.HeaderType(), "", 1))
	b.WriteString("};\n\n")
	b.WriteString(w.env.TSDL())
	for _, c := range clocks {
		b.WriteString(c.TSDL())
		b.WriteString("\n")
	}
	for _, sc := range classes {
		b.WriteString(sc.TSDL(order))
	}
	return b.String()
}

// FlushMetadata writes the metadata file through a temporary file and a
// rename, so readers never see a partial description.
func (w *Writer) FlushMetadata() error {
	const op = "writer flush metadata"
	text := w.Metadata()
	w.metaMu.Lock()
	defer w.metaMu.Unlock()
	final := filepath.Join(w.path, MetadataFile)
	tmp := final + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, []byte(text), 0o644); err != nil {
		return w.metadataFailed(ctferr.IO(op, tmp, err))
	}
	if err := w.fs.Rename(tmp, final); err != nil {
		_ = w.fs.Remove(tmp)
		return w.metadataFailed(ctferr.IO(op, final, err))
	}
	metrics.IncMetadataWrites()
	w.log.Debug("metadata written", slog.String("path", final), slog.Int("bytes", len(text)))
	return nil
}

func (w *Writer) metadataFailed(err error) error {
	metrics.IncIOFailure("trace", "metadata")
	w.log.Error("metadata write failed", slog.Any("error", err))
	return err
}

// Close flushes and closes every stream concurrently, writes the final
// metadata and closes the history sinks. All failures are reported; the
// metadata is written even when a stream fails.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	streams := append([]*stream.Stream(nil), w.streams...)
	w.mu.Unlock()

	var g errgroup.Group
	errs := make([]error, len(streams))
	for i, s := range streams {
		i, s := i, s
		g.Go(func() error {
			errs[i] = s.Close()
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, w.FlushMetadata())
	if err := history.CloseAll(w.opts.Sinks); err != nil {
		w.log.Warn("history sink close failed", slog.Any("error", err))
	}
	err := errors.Join(errs...)
	if err == nil {
		w.log.Info("trace closed", slog.Int("streams", len(streams)))
	}
	return err
}
