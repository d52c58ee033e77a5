package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/ctfwriter/internal/history"
)

// Sink writes stream history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ctf_stream_history(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			trace_uuid TEXT NOT NULL,
			stream_class TEXT NOT NULL,
			stream_id INTEGER NOT NULL,
			file TEXT NOT NULL,
			packet_seq INTEGER NOT NULL,
			packet_offset INTEGER NOT NULL,
			packet_size INTEGER NOT NULL,
			content_size INTEGER NOT NULL,
			timestamp_begin INTEGER NOT NULL,
			timestamp_end INTEGER NOT NULL,
			events INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ctf_stream_history_file ON ctf_stream_history(file);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	// SQLite integers are signed 64-bit; tick values above that are stored wrapped.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ctf_stream_history(timestamp, event, trace_uuid, stream_class, stream_id, file, packet_seq,
			packet_offset, packet_size, content_size, timestamp_begin, timestamp_end, events, discarded, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), rec.TraceUUID, rec.StreamClass, int64(rec.StreamID), rec.File,
		int64(rec.PacketSeq), rec.Offset, int64(rec.PacketSize), int64(rec.ContentSize),
		int64(rec.TimestampBegin), int64(rec.TimestampEnd), int64(rec.Events), int64(rec.Discarded), errText)
	return err
}

// Count returns how many events of type t were recorded for file.
func (s *Sink) Count(ctx context.Context, file string, t history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ctf_stream_history WHERE file = ? AND event = ?`, file, string(t)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
