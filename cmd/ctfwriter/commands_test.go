package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ctfwriter"
)

const traceTOML = `
[writer]
path = "unused"
byte_order = "le"
uuid = "2a6422d0-6cee-11e0-8c08-cb07d7b3a564"

[log]
level = "error"

[[env]]
key = "hostname"
value = "box"

[[clocks]]
name = "mono"
frequency = 1000

[[stream_classes]]
name = "app"
clock = "mono"

  [[stream_classes.event_context]]
  name = "tid"
  type = "integer"
  size = 16

  [[stream_classes.event_classes]]
  name = "tick"

    [[stream_classes.event_classes.fields]]
    name = "count"
    type = "integer"
    size = 32

    [[stream_classes.event_classes.fields]]
    name = "delta"
    type = "integer"
    size = 10
    signed = true

    [[stream_classes.event_classes.fields]]
    name = "level"
    type = "enum"
    size = 8
    mappings = [
      { name = "low", start = 0 },
      { name = "high", start = 1, end = 9 },
    ]

  [[stream_classes.event_classes]]
  name = "note"

    [[stream_classes.event_classes.fields]]
    name = "text"
    type = "string"

    [[stream_classes.event_classes.fields]]
    name = "weights"
    type = "array"
    length = 3
    element = { type = "float" }
`

func writeTraceConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "trace.toml")
	require.NoError(t, os.WriteFile(p, []byte(traceTOML), 0o644))
	return p
}

func TestWriteAndInspect(t *testing.T) {
	cfg := writeTraceConfig(t)
	out := filepath.Join(t.TempDir(), "trace")
	var buf bytes.Buffer
	c := command{out: &buf}

	require.NoError(t, c.Write(WriteFlags{ConfigPath: cfg, OutDir: out, Events: 3}))
	assert.Contains(t, buf.String(), "wrote 6 events to "+out)
	assert.FileExists(t, filepath.Join(out, "metadata"))
	assert.FileExists(t, filepath.Join(out, "app_0"))

	buf.Reset()
	require.NoError(t, c.Inspect(InspectFlags{File: filepath.Join(out, "app_0"), ByteOrder: "le"}))
	text := buf.String()
	assert.Contains(t, text, "packet 0 offset=0 stream_id=0 seq=0 events=6 discarded=0")
	assert.Contains(t, text, "ts=[1, 6]")
	assert.True(t, strings.HasSuffix(text, "1 packets\n"))

	buf.Reset()
	require.NoError(t, c.Inspect(InspectFlags{File: filepath.Join(out, "app_0"), ByteOrder: "le", JSON: true}))
	var rows []packetRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2a6422d0-6cee-11e0-8c08-cb07d7b3a564", rows[0].UUID)
	assert.Equal(t, uint64(6), rows[0].Events)
	assert.Equal(t, rows[0].PacketSize, (rows[0].ContentSize+7)&^7)
	assert.Nil(t, rows[0].CPUID)
}

func TestWriteRejectsNegativeEvents(t *testing.T) {
	c := command{out: &bytes.Buffer{}}
	assert.Error(t, c.Write(WriteFlags{ConfigPath: writeTraceConfig(t), Events: -1}))
}

func TestWriteMissingConfig(t *testing.T) {
	c := command{out: &bytes.Buffer{}}
	assert.Error(t, c.Write(WriteFlags{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")}))
}

func TestMetadataDoesNotTouchDisk(t *testing.T) {
	cfg := writeTraceConfig(t)
	var buf bytes.Buffer
	c := command{out: &buf}
	require.NoError(t, c.Metadata(MetadataFlags{ConfigPath: cfg}))

	md := buf.String()
	assert.True(t, strings.HasPrefix(md, "/* CTF 1.8 */"))
	assert.Contains(t, md, `uuid = "2a6422d0-6cee-11e0-8c08-cb07d7b3a564";`)
	assert.Contains(t, md, "byte_order = le;")
	assert.Contains(t, md, `hostname = "box";`)
	assert.Contains(t, md, `name = "tick";`)
	assert.Contains(t, md, `name = "note";`)
	assert.NoDirExists(t, "unused")
	assert.NoDirExists(t, filepath.Join(filepath.Dir(cfg), "unused"))
}

func TestInspectErrors(t *testing.T) {
	c := command{out: &bytes.Buffer{}}
	assert.Error(t, c.Inspect(InspectFlags{File: filepath.Join(t.TempDir(), "missing"), ByteOrder: "le"}))
	assert.Error(t, c.Inspect(InspectFlags{File: "whatever", ByteOrder: "middle"}))

	junk := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(junk, bytes.Repeat([]byte{0xAB}, 128), 0o644))
	assert.Error(t, c.Inspect(InspectFlags{File: junk, ByteOrder: "le"}))
}

func TestDemoThroughCobra(t *testing.T) {
	out := filepath.Join(t.TempDir(), "demo")
	var buf bytes.Buffer
	root := buildRoot(command{out: &buf})
	root.SetArgs([]string{"demo", "--out", out, "--events", "5", "--log-level", "error"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "wrote 5 events")

	md, err := os.ReadFile(filepath.Join(out, "metadata"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "clock {")
	assert.Contains(t, string(md), `name = "sample";`)
	assert.Contains(t, string(md), "samples[4];")

	buf.Reset()
	root = buildRoot(command{out: &buf})
	root.SetArgs([]string{"inspect", filepath.Join(out, "my_stream_0")})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "events=5")
	assert.Contains(t, buf.String(), "ts=[0, 4000]")
}

func TestFillEvent(t *testing.T) {
	ec, err := demoEventClass()
	require.NoError(t, err)
	e, err := ctfwriter.NewEvent(ec)
	require.NoError(t, err)
	require.NoError(t, fillEvent(e, 3))

	got := e.Payload().Value().(map[string]any)
	assert.Equal(t, map[string]any{"x": int64(3), "y": int64(3)}, got["point"])
	assert.Equal(t, "event 3", got["label"])
	assert.Equal(t, 1.5, got["ratio"])
	assert.Equal(t, uint64(0), got["state"])
	assert.Equal(t, []any{uint64(3), uint64(4), uint64(5), uint64(6)}, got["samples"])
}
