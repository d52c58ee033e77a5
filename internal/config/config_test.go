package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ctfwriter/internal/ctferr"
	"github.com/loykin/ctfwriter/internal/event"
	"github.com/loykin/ctfwriter/internal/fieldtype"
	"github.com/loykin/ctfwriter/internal/logger"
	"github.com/loykin/ctfwriter/internal/writer"
)

const fullTOML = `
env_files = ["%ENVFILE%"]

[writer]
path = "/trace"
byte_order = "be"
max_packet_size = 4096
fsync = true
uuid = "2a6422d0-6cee-11e0-8c08-cb07d7b3a564"

[log]
level = "debug"
format = "json"

[metrics]
listen = ":9102"

[[history]]
dsn = "sqlite://:memory:"

[[env]]
key = "hostname"
value = "${CTFW_CFG_HOST}"

[[env]]
key = "tracer_major"
value = 2

[[clocks]]
name = "monotonic"
description = "boot clock"
frequency = 1000000
offset_s = 10

[[stream_classes]]
name = "kernel"
clock = "monotonic"
cpu_id = true

  [[stream_classes.event_context]]
  name = "tid"
  type = "integer"
  size = 32

  [[stream_classes.event_classes]]
  name = "sched_switch"
  id = 5

    [[stream_classes.event_classes.fields]]
    name = "prev_comm"
    type = "string"

    [[stream_classes.event_classes.fields]]
    name = "state"
    type = "enum"
    size = 8
    mappings = [
      { name = "running", start = 0 },
      { name = "blocked", start = 1, end = 3 },
    ]

    [[stream_classes.event_classes.fields]]
    name = "samples"
    type = "array"
    length = 5
    element = { type = "integer", size = 10, signed = true }

    [[stream_classes.event_classes.fields]]
    name = "load"
    type = "float"
    exp_dig = 11
    mant_dig = 53

    [[stream_classes.event_classes.fields]]
    name = "flags"
    type = "struct"
      [[stream_classes.event_classes.fields.fields]]
      name = "raw"
      type = "integer"
      size = 3
      base = 16
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	envFile := filepath.Join(dir, "trace.env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\ndomain=kernel\n\nsite = lab\n"), 0o644))
	p := filepath.Join(dir, "trace.toml")
	body = strings.ReplaceAll(body, "%ENVFILE%", filepath.ToSlash(envFile))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAndBuildTrace(t *testing.T) {
	t.Setenv("CTFW_CFG_HOST", "node-3")
	fc, err := Load(writeConfig(t, fullTOML))
	require.NoError(t, err)

	assert.Equal(t, "/trace", fc.Writer.Path)
	assert.Equal(t, ":9102", fc.Metrics.Listen)
	lc := fc.LoggerConfig()
	assert.Equal(t, logger.LevelDebug, lc.Slog.Level)
	assert.Equal(t, logger.FormatJSON, lc.Slog.Format)

	opts, err := fc.WriterOptions()
	require.NoError(t, err)
	assert.Equal(t, fieldtype.BigEndian, opts.ByteOrder)
	assert.Equal(t, uint64(4096), opts.MaxPacketSize)
	assert.True(t, opts.Fsync)
	assert.Equal(t, "2a6422d0-6cee-11e0-8c08-cb07d7b3a564", opts.TraceUUID.String())

	sinks, err := fc.HistorySinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	opts.Sinks = sinks

	opts.Fs = afero.NewMemMapFs()
	w, err := writer.New(fc.Writer.Path, opts)
	require.NoError(t, err)
	require.NoError(t, BuildTrace(fc, w))

	assert.Equal(t, []string{"domain", "site", "hostname", "tracer_major"}, w.Env().Keys())
	host, _ := w.Env().Get("hostname")
	assert.Equal(t, "node-3", host.String())
	major, _ := w.Env().Get("tracer_major")
	assert.True(t, major.IsInt)

	clk, err := w.Clock("monotonic")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), clk.Frequency())
	off, _ := clk.Offset()
	assert.Equal(t, int64(10), off)

	sc, err := w.StreamClass("kernel")
	require.NoError(t, err)
	assert.True(t, sc.CPUID())
	assert.Same(t, clk, sc.Clock())
	require.NotNil(t, sc.EventContextType())
	ec, err := sc.EventClass("sched_switch")
	require.NoError(t, err)
	id, _ := ec.ID()
	assert.Equal(t, uint64(5), id)
	assert.Equal(t, 5, ec.PayloadType().FieldCount())

	s, err := w.CreateStream(sc)
	require.NoError(t, err)
	e, err := event.New(ec)
	require.NoError(t, err)
	require.NoError(t, e.SetPayload("prev_comm", "swapper"))
	require.NoError(t, e.SetPayload("state", "blocked"))
	require.NoError(t, e.SetPayload("samples", []int{-2, -1, 0, 1, 2}))
	require.NoError(t, e.SetPayload("load", 0.75))
	require.NoError(t, e.SetPayload("flags", map[string]any{"raw": 5}))
	require.NoError(t, s.AppendEvent(e))
	require.NoError(t, w.Close())

	meta := w.Metadata()
	assert.Contains(t, meta, "\"blocked\" = 1 ... 3")
	assert.Contains(t, meta, "base = hexadecimal;")
	assert.Contains(t, meta, "samples[5];")
	assert.Contains(t, meta, "cpu_id;")
	assert.Contains(t, meta, "\tid = 5;\n")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestWriterOptionsErrors(t *testing.T) {
	fc := &FileConfig{Writer: WriterConfig{ByteOrder: "middle"}}
	_, err := fc.WriterOptions()
	assert.ErrorIs(t, err, ctferr.ErrInvalidArgument)

	fc = &FileConfig{Writer: WriterConfig{UUID: "not-a-uuid"}}
	_, err = fc.WriterOptions()
	assert.Error(t, err)

	fc = &FileConfig{History: []HistoryConfig{{DSN: " "}}}
	_, err = fc.HistorySinks()
	assert.Error(t, err)
}

func TestLoggerConfigDefaults(t *testing.T) {
	lc := (&FileConfig{}).LoggerConfig()
	assert.Equal(t, logger.LevelInfo, lc.Slog.Level)
	assert.Nil(t, lc.File.Writer())
}

func TestBuildTypeErrors(t *testing.T) {
	cases := []struct {
		name string
		f    FieldConfig
		kind error
	}{
		{"unknown type", FieldConfig{Type: "variant"}, nil},
		{"too wide", FieldConfig{Type: "integer", Size: 65}, ctferr.ErrInvalidArgument},
		{"array without element", FieldConfig{Type: "array", Length: 2}, nil},
		{"bad encoding", FieldConfig{Type: "string", Encoding: "latin1"}, nil},
		{"bad byte order", FieldConfig{Type: "float", ByteOrder: "sideways"}, ctferr.ErrInvalidArgument},
		{"overlapping mappings", FieldConfig{Type: "enum", Size: 8, Mappings: []MappingConfig{
			{Name: "a", Start: 0, End: ptr(int64(4))}, {Name: "b", Start: 4},
		}}, ctferr.ErrRangeConflict},
		{"negative unsigned mapping", FieldConfig{Type: "enum", Size: 8, Mappings: []MappingConfig{{Name: "a", Start: -1}}}, nil},
		{"duplicate struct member", FieldConfig{Type: "struct", Fields: []FieldConfig{
			{Name: "x", Type: "integer"}, {Name: "x", Type: "integer"},
		}}, ctferr.ErrDuplicateField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildType(tc.f)
			require.Error(t, err)
			if tc.kind != nil {
				assert.ErrorIs(t, err, tc.kind)
			}
		})
	}
}

func TestBuildTraceUnknownClock(t *testing.T) {
	w, err := writer.New("/t", writer.Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	fc := &FileConfig{StreamClasses: []StreamClassConfig{{Name: "s", Clock: "missing"}}}
	err = BuildTrace(fc, w)
	assert.ErrorIs(t, err, ctferr.ErrNoSuchField)
}

func ptr[T any](v T) *T { return &v }
