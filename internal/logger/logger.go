package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "ctfwriter.log"
)

// Level names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the unified logging configuration: the structured logger and
// an optional rotating log file it writes to.
type Config struct {
	Slog SlogConfig `json:"slog" mapstructure:"slog"`
	File FileConfig `json:"file" mapstructure:"file"`
}

// SlogConfig configures the slog handler.
type SlogConfig struct {
	Level      string `json:"level" mapstructure:"level"`   // debug, info, warn, error (default info)
	Format     string `json:"format" mapstructure:"format"` // text or json (default text)
	Color      bool   `json:"color" mapstructure:"color"`
	TimeStamps bool   `json:"timestamps" mapstructure:"timestamps"`
	Source     bool   `json:"source" mapstructure:"source"`
}

// FileConfig describes the log file. If Path is empty and Dir is set, the
// file is Dir/ctfwriter.log. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`                   // base directory for logs
	Path       string `json:"path" mapstructure:"path"`                 // explicit path overrides Dir
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`   // megabytes before rotation (default 10)
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`   // number of backups to keep (default 3)
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `json:"compress" mapstructure:"compress"`         // Gzip rotated files
}

// Writer returns the rotating log file writer, or nil when no file is
// configured.
func (c FileConfig) Writer() io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, DefaultFileName)
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ParseLevel maps a level name to slog.Level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds a logger writing to the configured file, or to stderr.
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if fw := c.File.Writer(); fw != nil {
		w = fw
	}
	return c.Slog.New(w)
}

// New builds a logger writing to w.
func (c SlogConfig) New(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level), AddSource: c.Source}
	if !c.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	if strings.EqualFold(c.Format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	if c.Color {
		return slog.New(NewColorTextHandler(w, opts, c.TimeStamps))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
