package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriter_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	w := FileConfig{Dir: dir}.Writer()
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	_, _ = w.Write([]byte("hello\n"))
	closeIf(w)
	if _, err := os.Stat(filepath.Join(dir, DefaultFileName)); err != nil {
		t.Fatalf("log not created: %v", err)
	}
}

func TestWriter_ExplicitPathWins(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "explicit.log")
	w := FileConfig{Dir: filepath.Join(dir, "unused"), Path: p}.Writer()
	_, _ = w.Write([]byte("x"))
	closeIf(w)
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("explicit path not created: %v", err)
	}
}

func TestWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no Dir/Path set")
	}
	w := FileConfig{Path: "x"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSlogJSONWithoutTimestamps(t *testing.T) {
	var buf bytes.Buffer
	l := SlogConfig{Level: LevelDebug, Format: FormatJSON}.New(&buf)
	l.Debug("packet sealed", slog.String("stream_class", "S"))
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if _, ok := m["time"]; ok {
		t.Fatalf("time should be dropped: %v", m)
	}
	if m["stream_class"] != "S" || m["msg"] != "packet sealed" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestSlogLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := SlogConfig{Level: LevelWarn}.New(&buf)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l := SlogConfig{Color: true}.New(&buf)
	l.Error("stream failed")
	if !strings.Contains(buf.String(), "\033[31mERROR\033[0m") {
		t.Fatalf("missing color code: %q", buf.String())
	}
}

func TestColorTextHandlerStreamScope(t *testing.T) {
	var buf bytes.Buffer
	l := SlogConfig{Color: true, Level: LevelDebug}.New(&buf).
		With(slog.String(AttrStreamClass, "kernel"), slog.Uint64(AttrStreamID, 2), slog.String("path", "kernel_0"))
	l.Debug("packet sealed", slog.Uint64(AttrPacketSeq, 7), slog.Uint64("events", 3))
	line := buf.String()
	if !strings.HasPrefix(line, "\033[36mDEBUG\033[0m \033[35m[kernel#2 seq 7]\033[0m ") {
		t.Fatalf("missing stream prefix: %q", line)
	}
	if !strings.Contains(line, `msg="packet sealed" path=kernel_0 events=3`) {
		t.Fatalf("unexpected tail: %q", line)
	}
	if strings.Contains(line, "stream_class=") || strings.Contains(line, "packet_seq=") || strings.Contains(line, "level=") {
		t.Fatalf("scope attributes repeated in tail: %q", line)
	}
	if strings.Contains(line, "time=") {
		t.Fatalf("time shown without TimeStamps: %q", line)
	}

	buf.Reset()
	l.WithGroup("sink").With(slog.String(AttrStreamClass, "other")).Warn("history sink failed")
	if !strings.Contains(buf.String(), "[kernel#2]") || !strings.Contains(buf.String(), "sink.stream_class=other") {
		t.Fatalf("grouped attributes must stay in the tail: %q", buf.String())
	}
}

func TestNewSloggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Slog: SlogConfig{Format: FormatText}, File: FileConfig{Dir: dir}}
	cfg.NewSlogger().Info("stream opened", slog.String("path", "S_0"))
	b, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "path=S_0") {
		t.Fatalf("unexpected log: %q", b)
	}
}
