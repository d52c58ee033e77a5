package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/ctfwriter/internal/history"
)

// Sink sends stream history events to ClickHouse using the official client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options selects the ClickHouse server and table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func New(opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = "ctf_stream_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(6),
			trace_uuid String,
			stream_class String,
			stream_id UInt32,
			file String,
			packet_seq UInt64,
			packet_offset Int64,
			packet_size UInt64,
			content_size UInt64,
			timestamp_begin UInt64,
			timestamp_end UInt64,
			events UInt64,
			discarded UInt64,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, file, packet_seq)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, trace_uuid, stream_class, stream_id, file, packet_seq,
		packet_offset, packet_size, content_size, timestamp_begin, timestamp_end, events, discarded, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		rec.TraceUUID,
		rec.StreamClass,
		rec.StreamID,
		rec.File,
		rec.PacketSeq,
		rec.Offset,
		rec.PacketSize,
		rec.ContentSize,
		rec.TimestampBegin,
		rec.TimestampEnd,
		rec.Events,
		rec.Discarded,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
