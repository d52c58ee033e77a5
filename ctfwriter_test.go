package ctfwriter

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := New("/trace", Options{Fs: fs, ByteOrder: LittleEndian})
	require.NoError(t, err)
	require.NoError(t, w.AddEnvironmentField("hostname", "facade"))

	clk, err := NewClock("C")
	require.NoError(t, err)
	require.NoError(t, w.AddClock(clk))

	sc, err := NewStreamClass("S")
	require.NoError(t, err)
	require.NoError(t, sc.SetClock(clk))
	ec, err := NewEventClass("E")
	require.NoError(t, err)

	i32, _ := NewSignedInteger(32)
	i10, _ := NewSignedInteger(10)
	arr, err := NewArray(i10, 5)
	require.NoError(t, err)
	nested := NewStruct()
	require.NoError(t, nested.AddField(i32, "a"))
	require.NoError(t, nested.AddField(arr, "b"))
	require.NoError(t, ec.AddField(nested, "s"))
	require.NoError(t, ec.AddField(NewString(), "msg"))
	require.NoError(t, sc.AddEventClass(ec))

	s, err := w.CreateStream(sc)
	require.NoError(t, err)
	e, err := NewEvent(ec)
	require.NoError(t, err)
	require.NoError(t, e.SetPayload("s", map[string]any{"a": 7, "b": []int{0, 1, 2, 3, 4}}))
	require.NoError(t, e.SetPayload("msg", "hello"))
	require.NoError(t, s.AppendEvent(e))
	require.NoError(t, w.Close())

	data, err := afero.ReadFile(fs, s.Path())
	require.NoError(t, err)
	dec, err := NewPacketDecoder(data, sc)
	require.NoError(t, err)
	p, err := dec.Next()
	require.NoError(t, err)
	recs, err := p.Events(sc.EventLayout)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	sv, err := recs[0].Payload.Field("s")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": int64(7),
		"b": []any{int64(0), int64(1), int64(2), int64(3), int64(4)},
	}, sv.Value())
	_, err = dec.Next()
	assert.True(t, errors.Is(err, io.EOF))

	idle, _ := NewStreamClass("idle")
	_, err = NewPacketDecoder(nil, idle)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, KindOf(err).String(), "invalid argument")
}

func TestOpenConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "trace.toml")
	data := `
[writer]
path = "/unused"
byte_order = "le"

[log]
level = "error"
dir = "` + filepath.ToSlash(dir) + `"

[[clocks]]
name = "C"

[[stream_classes]]
name = "S"
clock = "C"
  [[stream_classes.event_classes]]
  name = "E"
    [[stream_classes.event_classes.fields]]
    name = "n"
    type = "integer"
    signed = true
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	c, err := LoadConfig(p)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	w, err := OpenConfig(c, fs, "/override")
	require.NoError(t, err)
	assert.Equal(t, "/override", w.Path())
	sc, err := w.StreamClass("S")
	require.NoError(t, err)
	_, err = w.CreateStream(sc)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err := afero.Exists(fs, "/override/metadata")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMetricsHelpers(t *testing.T) {
	// the handler serves the default registry, so register there first;
	// later registrations are no-ops
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}

	w, err := New("/m", Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	sc, _ := NewStreamClass("metered")
	ec, _ := NewEventClass("tick")
	require.NoError(t, sc.AddEventClass(ec))
	s, err := w.CreateStream(sc)
	require.NoError(t, err)
	e, _ := NewEvent(ec)
	require.NoError(t, s.AppendEvent(e))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `ctfwriter_stream_events_appended_total{stream_class="metered"} 1`) {
		t.Fatalf("metrics output missing event counter: %s", body)
	}
	if !strings.Contains(body, "ctfwriter_trace_metadata_writes_total") {
		t.Fatalf("metrics output missing metadata counter")
	}
}
