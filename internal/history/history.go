package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of stream lifecycle event.
type EventType string

const (
	EventStreamOpen   EventType = "stream_open"
	EventPacketSealed EventType = "packet_sealed"
	EventStreamClose  EventType = "stream_close"
	EventStreamFailed EventType = "stream_failed"
)

// Record describes one stream file and, for packet events, the sealed
// packet. Sizes are in bits as recorded in the packet context; Offset is
// the byte offset of the packet in File.
type Record struct {
	TraceUUID      string `json:"trace_uuid"`
	StreamClass    string `json:"stream_class"`
	StreamID       uint32 `json:"stream_id"`
	File           string `json:"file"`
	PacketSeq      uint64 `json:"packet_seq"`
	Offset         int64  `json:"offset"`
	PacketSize     uint64 `json:"packet_size"`
	ContentSize    uint64 `json:"content_size"`
	TimestampBegin uint64 `json:"timestamp_begin"`
	TimestampEnd   uint64 `json:"timestamp_end"`
	Events         uint64 `json:"events"`
	Discarded      uint64 `json:"discarded"`
	Error          string `json:"error,omitempty"`
}

// Event represents a stream lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/audit systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Broadcast sends e to every sink and joins their errors.
func Broadcast(ctx context.Context, sinks []Sink, e Event) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every sink that implements io.Closer.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
