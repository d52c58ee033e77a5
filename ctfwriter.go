package ctfwriter

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/loykin/ctfwriter/internal/clock"
	cfg "github.com/loykin/ctfwriter/internal/config"
	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/event"
	"github.com/loykin/ctfwriter/internal/field"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/history"
	"github.com/loykin/ctfwriter/internal/history/factory"
	"github.com/loykin/ctfwriter/internal/metrics"
	"github.com/loykin/ctfwriter/internal/packet"
	"github.com/loykin/ctfwriter/internal/stream"
	"github.com/loykin/ctfwriter/internal/writer"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Writer = writer.Writer

type Options = writer.Options

type Clock = clock.Clock

type StreamClass = stream.Class

type Stream = stream.Stream

type EventClass = event.Class

type Event = event.Event

// Field types
type (
	FieldType   = fieldtype.Type
	IntegerType = fieldtype.Integer
	FloatType   = fieldtype.Float
	StringType  = fieldtype.String
	EnumType    = fieldtype.Enum
	ArrayType   = fieldtype.Array
	StructType  = fieldtype.Struct
	ByteOrder   = fieldtype.ByteOrder
	Base        = fieldtype.Base
	Encoding    = fieldtype.Encoding
)

// Field values
type (
	Field        = field.Field
	IntegerField = field.Integer
	FloatField   = field.Float
	StringField  = field.String
	EnumField    = field.Enum
	ArrayField   = field.Array
	StructField  = field.Struct
)

type (
	Kind  = ctferr.Kind
	Error = ctferr.Error
)

type HistorySink = history.Sink

type Config = cfg.FileConfig

type (
	PacketDecoder = packet.Decoder
	Packet        = packet.Packet
	PacketRecord  = packet.Record
)

const (
	NativeByteOrder = fieldtype.Native
	LittleEndian    = fieldtype.LittleEndian
	BigEndian       = fieldtype.BigEndian
	NetworkOrder    = fieldtype.Network

	EncodingNone  = fieldtype.EncodingNone
	EncodingUTF8  = fieldtype.EncodingUTF8
	EncodingASCII = fieldtype.EncodingASCII

	BaseBinary      = fieldtype.BaseBinary
	BaseOctal       = fieldtype.BaseOctal
	BaseDecimal     = fieldtype.BaseDecimal
	BaseHexadecimal = fieldtype.BaseHexadecimal
)

var (
	ErrTypeMismatch          = ctferr.ErrTypeMismatch
	ErrOutOfRange            = ctferr.ErrOutOfRange
	ErrDuplicateField        = ctferr.ErrDuplicateField
	ErrDuplicateName         = ctferr.ErrDuplicateName
	ErrDuplicateID           = ctferr.ErrDuplicateID
	ErrRangeConflict         = ctferr.ErrRangeConflict
	ErrFrozenSchema          = ctferr.ErrFrozenSchema
	ErrForeignEventClass     = ctferr.ErrForeignEventClass
	ErrNoSuchField           = ctferr.ErrNoSuchField
	ErrIndexOutOfBounds      = ctferr.ErrIndexOutOfBounds
	ErrIOFailure             = ctferr.ErrIOFailure
	ErrInternalInconsistency = ctferr.ErrInternalInconsistency
	ErrInvalidArgument       = ctferr.ErrInvalidArgument
	ErrStreamFailed          = ctferr.ErrStreamFailed
)

// KindOf reports the error kind of err.
func KindOf(err error) Kind { return ctferr.KindOf(err) }

// New creates a writer for the trace directory at path.
func New(path string, opts Options) (*Writer, error) { return writer.New(path, opts) }

func NewClock(name string) (*Clock, error)             { return clock.New(name) }
func NewStreamClass(name string) (*StreamClass, error) { return stream.NewClass(name) }
func NewEventClass(name string) (*EventClass, error)   { return event.NewClass(name) }
func NewEvent(ec *EventClass) (*Event, error)          { return event.New(ec) }

func NewInteger(size uint) (*IntegerType, error)       { return fieldtype.NewInteger(size) }
func NewSignedInteger(size uint) (*IntegerType, error) { return fieldtype.NewSignedInteger(size) }
func NewFloat() *FloatType                             { return fieldtype.NewFloat() }
func NewDouble() *FloatType                            { return fieldtype.NewDouble() }
func NewString() *StringType                           { return fieldtype.NewString() }
func NewEnum(container FieldType) (*EnumType, error)   { return fieldtype.NewEnum(container) }
func NewArray(elem FieldType, length int) (*ArrayType, error) {
	return fieldtype.NewArray(elem, length)
}
func NewStruct() *StructType { return fieldtype.NewStruct() }

// NewPacketDecoder reads back the packets of a stream file written with
// the layout of sc. sc must have streams.
func NewPacketDecoder(data []byte, sc *StreamClass) (*PacketDecoder, error) {
	l, ok := sc.Layout()
	if !ok {
		return nil, ctferr.New(ctferr.KindInvalidArgument, "new packet decoder", "stream class %q has no streams", sc.Name())
	}
	return packet.NewDecoder(data, l), nil
}

// NewRawPacketDecoder reads packet headers and contexts of a stream file
// without its schema. Event records cannot be decoded this way.
func NewRawPacketDecoder(data []byte, order ByteOrder, cpuID bool) *PacketDecoder {
	return packet.NewDecoder(data, packet.DefaultLayout(order, "", cpuID))
}

// ParseByteOrder accepts native, le, be and network spellings.
func ParseByteOrder(s string) (ByteOrder, error) { return fieldtype.ParseByteOrder(s) }

// LoadConfig parses a TOML trace declaration.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// OpenConfig creates the writer declared by c on fs (nil selects the OS
// file system) with the configured logger and history sinks. path, when
// not empty, overrides the configured trace directory.
func OpenConfig(c *Config, fs afero.Fs, path string) (*Writer, error) {
	opts, err := c.WriterOptions()
	if err != nil {
		return nil, err
	}
	opts.Fs = fs
	opts.Logger = c.LoggerConfig().NewSlogger()
	sinks, err := c.HistorySinks()
	if err != nil {
		return nil, err
	}
	opts.Sinks = sinks
	if path == "" {
		path = c.Writer.Path
	}
	w, err := writer.New(path, opts)
	if err != nil {
		_ = history.CloseAll(sinks)
		return nil, err
	}
	if err := cfg.BuildTrace(c, w); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// NewHistorySinkFromDSN opens a stream history sink (sqlite, postgres,
// clickhouse or opensearch) from a DSN.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
