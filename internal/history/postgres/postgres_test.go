package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/ctfwriter/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start PostgreSQL container")
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	rec := history.Record{
		TraceUUID:      "2a6422d0-6cee-11e0-8c08-cb07d7b3a564",
		StreamClass:    "S",
		File:           "S_0",
		PacketSize:     1024,
		ContentSize:    1024,
		TimestampBegin: 1 << 63,
		TimestampEnd:   1<<64 - 1,
		Events:         3,
	}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventPacketSealed, OccurredAt: time.Now().UTC(), Record: rec}))
	rec.Error = "closed"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStreamClose, OccurredAt: time.Now().UTC(), Record: rec}))

	var count int
	err = sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ctf_stream_history WHERE file = $1", rec.File).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var end string
	err = sink.db.QueryRowContext(ctx,
		"SELECT timestamp_end::text FROM ctf_stream_history WHERE event = $1", string(history.EventPacketSealed)).Scan(&end)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", end, "full unsigned tick range survives")
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
