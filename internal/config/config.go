package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/loykin/ctfwriter/internal/clock"
	"github.com/loykin/ctfwriter/internal/event"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/history"
	"github.com/loykin/ctfwriter/internal/history/factory"
	"github.com/loykin/ctfwriter/internal/logger"
	"github.com/loykin/ctfwriter/internal/stream"
	"github.com/loykin/ctfwriter/internal/writer"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Writer        WriterConfig        `toml:"writer" mapstructure:"writer"`
	Log           *LogConfig          `toml:"log" mapstructure:"log"`
	Metrics       MetricsConfig       `toml:"metrics" mapstructure:"metrics"`
	History       []HistoryConfig     `toml:"history" mapstructure:"history"`
	Env           []EnvEntry          `toml:"env" mapstructure:"env"`
	EnvFiles      []string            `toml:"env_files" mapstructure:"env_files"`
	Clocks        []ClockConfig       `toml:"clocks" mapstructure:"clocks"`
	StreamClasses []StreamClassConfig `toml:"stream_classes" mapstructure:"stream_classes"`
}

type WriterConfig struct {
	Path          string `toml:"path" mapstructure:"path"`
	ByteOrder     string `toml:"byte_order" mapstructure:"byte_order"`
	MaxPacketSize uint64 `toml:"max_packet_size" mapstructure:"max_packet_size"`
	Fsync         bool   `toml:"fsync" mapstructure:"fsync"`
	UUID          string `toml:"uuid" mapstructure:"uuid"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// EnvEntry is one trace environment field. Value is a string or an
// integer; strings may reference ${VAR} from the process environment.
type EnvEntry struct {
	Key   string `toml:"key" mapstructure:"key"`
	Value any    `toml:"value" mapstructure:"value"`
}

type ClockConfig struct {
	Name        string `toml:"name" mapstructure:"name"`
	Description string `toml:"description" mapstructure:"description"`
	Frequency   uint64 `toml:"frequency" mapstructure:"frequency"`
	Precision   uint64 `toml:"precision" mapstructure:"precision"`
	OffsetS     int64  `toml:"offset_s" mapstructure:"offset_s"`
	Offset      int64  `toml:"offset" mapstructure:"offset"`
	Absolute    bool   `toml:"absolute" mapstructure:"absolute"`
	UUID        string `toml:"uuid" mapstructure:"uuid"`
	RealTime    bool   `toml:"realtime" mapstructure:"realtime"`
}

type StreamClassConfig struct {
	Name         string             `toml:"name" mapstructure:"name"`
	ID           *uint32            `toml:"id" mapstructure:"id"`
	Clock        string             `toml:"clock" mapstructure:"clock"`
	CPUID        bool               `toml:"cpu_id" mapstructure:"cpu_id"`
	EventContext []FieldConfig      `toml:"event_context" mapstructure:"event_context"`
	EventClasses []EventClassConfig `toml:"event_classes" mapstructure:"event_classes"`
}

type EventClassConfig struct {
	Name    string        `toml:"name" mapstructure:"name"`
	ID      *uint64       `toml:"id" mapstructure:"id"`
	Context []FieldConfig `toml:"context" mapstructure:"context"`
	Fields  []FieldConfig `toml:"fields" mapstructure:"fields"`
}

// FieldConfig declares a named field type. Type selects which of the
// remaining keys apply.
type FieldConfig struct {
	Name      string `toml:"name" mapstructure:"name"`
	Type      string `toml:"type" mapstructure:"type"` // integer, float, string, enum, array, struct
	Align     uint   `toml:"align" mapstructure:"align"`
	ByteOrder string `toml:"byte_order" mapstructure:"byte_order"`
	Encoding  string `toml:"encoding" mapstructure:"encoding"`

	// integer, and enum container
	Size   uint `toml:"size" mapstructure:"size"`
	Signed bool `toml:"signed" mapstructure:"signed"`
	Base   int  `toml:"base" mapstructure:"base"`

	// float
	ExpDigits  uint `toml:"exp_dig" mapstructure:"exp_dig"`
	MantDigits uint `toml:"mant_dig" mapstructure:"mant_dig"`

	Mappings []MappingConfig `toml:"mappings" mapstructure:"mappings"`
	Length   int             `toml:"length" mapstructure:"length"`
	Element  *FieldConfig    `toml:"element" mapstructure:"element"`
	Fields   []FieldConfig   `toml:"fields" mapstructure:"fields"`
}

// MappingConfig is an inclusive enum range. End defaults to Start.
type MappingConfig struct {
	Name  string `toml:"name" mapstructure:"name"`
	Start int64  `toml:"start" mapstructure:"start"`
	End   *int64 `toml:"end" mapstructure:"end"`
}

// Load parses a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoggerConfig converts the [log] table; without one, logs are text on
// stderr at info level.
func (fc *FileConfig) LoggerConfig() logger.Config {
	if fc.Log == nil {
		return logger.Config{Slog: logger.SlogConfig{Level: logger.LevelInfo, Format: logger.FormatText}}
	}
	l := fc.Log
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     l.Format,
			Color:      l.Color,
			TimeStamps: l.Timestamps,
			Source:     l.Source,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			Path:       l.Path,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// HistorySinks opens one sink per [[history]] entry.
func (fc *FileConfig) HistorySinks() ([]history.Sink, error) {
	dsns := make([]string, 0, len(fc.History))
	for i, h := range fc.History {
		if strings.TrimSpace(h.DSN) == "" {
			return nil, fmt.Errorf("history entry %d requires dsn", i)
		}
		dsns = append(dsns, h.DSN)
	}
	return factory.NewSinks(dsns)
}

// WriterOptions converts the [writer] table. Fs, Logger and Sinks are
// left for the caller.
func (fc *FileConfig) WriterOptions() (writer.Options, error) {
	var opts writer.Options
	order, err := fieldtype.ParseByteOrder(fc.Writer.ByteOrder)
	if err != nil {
		return opts, fmt.Errorf("writer: %w", err)
	}
	opts.ByteOrder = order
	opts.MaxPacketSize = fc.Writer.MaxPacketSize
	opts.Fsync = fc.Writer.Fsync
	if fc.Writer.UUID != "" {
		id, err := uuid.Parse(fc.Writer.UUID)
		if err != nil {
			return opts, fmt.Errorf("writer uuid: %w", err)
		}
		opts.TraceUUID = id
	}
	return opts, nil
}

// BuildTrace declares the configured environment, clocks, stream classes
// and event classes on w.
func BuildTrace(fc *FileConfig, w *writer.Writer) error {
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return err
		}
		for _, kv := range pairs {
			if err := w.AddEnvironmentField(kv[0], w.Env().Expand(kv[1])); err != nil {
				return fmt.Errorf("env file %s: %w", p, err)
			}
		}
	}
	for _, e := range fc.Env {
		v := e.Value
		if s, ok := v.(string); ok {
			v = w.Env().Expand(s)
		}
		if err := w.AddEnvironmentField(e.Key, v); err != nil {
			return fmt.Errorf("env %q: %w", e.Key, err)
		}
	}
	for _, cc := range fc.Clocks {
		c, err := buildClock(cc)
		if err != nil {
			return fmt.Errorf("clock %q: %w", cc.Name, err)
		}
		if err := w.AddClock(c); err != nil {
			return err
		}
	}
	for _, scc := range fc.StreamClasses {
		sc, err := buildStreamClass(scc, w)
		if err != nil {
			return fmt.Errorf("stream class %q: %w", scc.Name, err)
		}
		if err := w.AddStreamClass(sc); err != nil {
			return err
		}
	}
	return nil
}

func buildClock(cc ClockConfig) (*clock.Clock, error) {
	c, err := clock.New(cc.Name)
	if err != nil {
		return nil, err
	}
	if cc.Description != "" {
		if err := c.SetDescription(cc.Description); err != nil {
			return nil, err
		}
	}
	if cc.Frequency != 0 {
		if err := c.SetFrequency(cc.Frequency); err != nil {
			return nil, err
		}
	}
	if cc.Precision != 0 {
		if err := c.SetPrecision(cc.Precision); err != nil {
			return nil, err
		}
	}
	if err := c.SetOffsetSeconds(cc.OffsetS); err != nil {
		return nil, err
	}
	if err := c.SetOffset(cc.Offset); err != nil {
		return nil, err
	}
	if err := c.SetAbsolute(cc.Absolute); err != nil {
		return nil, err
	}
	if cc.UUID != "" {
		id, err := uuid.Parse(cc.UUID)
		if err != nil {
			return nil, err
		}
		if err := c.SetUUID(id); err != nil {
			return nil, err
		}
	}
	if cc.RealTime {
		c.UseSource(nil)
	}
	return c, nil
}

func buildStreamClass(scc StreamClassConfig, w *writer.Writer) (*stream.Class, error) {
	sc, err := stream.NewClass(scc.Name)
	if err != nil {
		return nil, err
	}
	if scc.ID != nil {
		if err := sc.SetID(*scc.ID); err != nil {
			return nil, err
		}
	}
	if scc.Clock != "" {
		c, err := w.Clock(scc.Clock)
		if err != nil {
			return nil, err
		}
		if err := sc.SetClock(c); err != nil {
			return nil, err
		}
	}
	if err := sc.SetCPUID(scc.CPUID); err != nil {
		return nil, err
	}
	if len(scc.EventContext) > 0 {
		st, err := BuildStruct(scc.EventContext)
		if err != nil {
			return nil, fmt.Errorf("event context: %w", err)
		}
		if err := sc.SetEventContextType(st); err != nil {
			return nil, err
		}
	}
	for _, ecc := range scc.EventClasses {
		ec, err := buildEventClass(ecc)
		if err != nil {
			return nil, fmt.Errorf("event class %q: %w", ecc.Name, err)
		}
		if err := sc.AddEventClass(ec); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func buildEventClass(ecc EventClassConfig) (*event.Class, error) {
	ec, err := event.NewClass(ecc.Name)
	if err != nil {
		return nil, err
	}
	if ecc.ID != nil {
		if err := ec.SetID(*ecc.ID); err != nil {
			return nil, err
		}
	}
	if len(ecc.Context) > 0 {
		st, err := BuildStruct(ecc.Context)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		if err := ec.SetContextType(st); err != nil {
			return nil, err
		}
	}
	for _, f := range ecc.Fields {
		ft, err := BuildType(f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if err := ec.AddField(ft, f.Name); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// BuildStruct builds a structure type from named member declarations.
func BuildStruct(fields []FieldConfig) (*fieldtype.Struct, error) {
	st := fieldtype.NewStruct()
	for _, f := range fields {
		ft, err := BuildType(f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if err := st.AddField(ft, f.Name); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// BuildType builds the field type declared by f.
func BuildType(f FieldConfig) (fieldtype.Type, error) {
	var (
		t   fieldtype.Type
		err error
	)
	switch strings.ToLower(f.Type) {
	case "integer", "int":
		t, err = buildInteger(f)
	case "float", "floating_point":
		t, err = buildFloat(f)
	case "string":
		t, err = buildString(f)
	case "enum":
		t, err = buildEnum(f)
	case "array":
		if f.Element == nil {
			return nil, fmt.Errorf("array requires element")
		}
		var elem fieldtype.Type
		if elem, err = BuildType(*f.Element); err == nil {
			t, err = fieldtype.NewArray(elem, f.Length)
		}
	case "struct":
		var st *fieldtype.Struct
		if st, err = BuildStruct(f.Fields); err == nil {
			t = st
			if f.Align != 0 {
				err = st.SetAlignment(f.Align)
			}
		}
	default:
		return nil, fmt.Errorf("unknown field type %q", f.Type)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func buildInteger(f FieldConfig) (*fieldtype.Integer, error) {
	size := f.Size
	if size == 0 {
		size = 32
	}
	t, err := fieldtype.NewInteger(size)
	if err != nil {
		return nil, err
	}
	if err := t.SetSigned(f.Signed); err != nil {
		return nil, err
	}
	order, err := fieldtype.ParseByteOrder(f.ByteOrder)
	if err != nil {
		return nil, err
	}
	if err := t.SetByteOrder(order); err != nil {
		return nil, err
	}
	if f.Base != 0 {
		if err := t.SetBase(fieldtype.Base(f.Base)); err != nil {
			return nil, err
		}
	}
	if f.Encoding != "" {
		enc, err := parseEncoding(f.Encoding)
		if err != nil {
			return nil, err
		}
		if err := t.SetEncoding(enc); err != nil {
			return nil, err
		}
	}
	if f.Align != 0 {
		if err := t.SetAlignment(f.Align); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildFloat(f FieldConfig) (*fieldtype.Float, error) {
	t := fieldtype.NewFloat()
	if f.ExpDigits != 0 || f.MantDigits != 0 {
		if err := t.SetDigits(f.ExpDigits, f.MantDigits); err != nil {
			return nil, err
		}
	}
	order, err := fieldtype.ParseByteOrder(f.ByteOrder)
	if err != nil {
		return nil, err
	}
	if err := t.SetByteOrder(order); err != nil {
		return nil, err
	}
	if f.Align != 0 {
		if err := t.SetAlignment(f.Align); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildString(f FieldConfig) (*fieldtype.String, error) {
	t := fieldtype.NewString()
	if f.Encoding != "" {
		enc, err := parseEncoding(f.Encoding)
		if err != nil {
			return nil, err
		}
		if err := t.SetEncoding(enc); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildEnum(f FieldConfig) (*fieldtype.Enum, error) {
	container, err := buildInteger(f)
	if err != nil {
		return nil, err
	}
	t, err := fieldtype.NewEnum(container)
	if err != nil {
		return nil, err
	}
	for _, m := range f.Mappings {
		end := m.Start
		if m.End != nil {
			end = *m.End
		}
		if container.Signed() {
			err = t.AddMapping(m.Name, m.Start, end)
		} else {
			if m.Start < 0 || end < 0 {
				return nil, fmt.Errorf("mapping %q: negative bound for unsigned container", m.Name)
			}
			err = t.AddMappingUnsigned(m.Name, uint64(m.Start), uint64(end))
		}
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", m.Name, err)
		}
	}
	return t, nil
}

func parseEncoding(s string) (fieldtype.Encoding, error) {
	switch strings.ToLower(s) {
	case "none":
		return fieldtype.EncodingNone, nil
	case "utf8", "utf-8":
		return fieldtype.EncodingUTF8, nil
	case "ascii":
		return fieldtype.EncodingASCII, nil
	}
	return fieldtype.EncodingNone, fmt.Errorf("unknown encoding %q", s)
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Lines starting with # are ignored. Order is preserved.
func loadEnvFile(path string) ([][2]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}
