package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	eventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "events_appended_total",
			Help:      "Number of events serialized into packets.",
		}, []string{"stream_class"},
	)
	eventsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "events_discarded_total",
			Help:      "Number of events reported as discarded by producers.",
		}, []string{"stream_class"},
	)
	packetsSealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "packets_sealed_total",
			Help:      "Number of packets sealed and written to stream files.",
		}, []string{"stream_class"},
	)
	bytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "bytes_written_total",
			Help:      "Bytes of packet data written to stream files.",
		}, []string{"stream_class"},
	)
	flushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing and syncing a sealed packet.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream_class"},
	)
	ioFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "io_failures_total",
			Help:      "Number of failed writes, syncs or metadata emissions.",
		}, []string{"stream_class", "op"},
	)
	openStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ctfwriter",
			Subsystem: "stream",
			Name:      "open_streams",
			Help:      "Streams currently open per stream class.",
		}, []string{"stream_class"},
	)
	metadataWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctfwriter",
			Subsystem: "trace",
			Name:      "metadata_writes_total",
			Help:      "Number of times the metadata file was emitted.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{eventsAppended, eventsDiscarded, packetsSealed, bytesWritten, flushDuration, ioFailures, openStreams, metadataWrites}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncEvents(streamClass string) {
	if regOK.Load() {
		eventsAppended.WithLabelValues(streamClass).Inc()
	}
}

func AddDiscarded(streamClass string, n uint64) {
	if regOK.Load() {
		eventsDiscarded.WithLabelValues(streamClass).Add(float64(n))
	}
}

// ObservePacket records one sealed packet of size bytes and the time it
// took to persist.
func ObservePacket(streamClass string, size int, seconds float64) {
	if regOK.Load() {
		packetsSealed.WithLabelValues(streamClass).Inc()
		bytesWritten.WithLabelValues(streamClass).Add(float64(size))
		flushDuration.WithLabelValues(streamClass).Observe(seconds)
	}
}

func IncIOFailure(streamClass, op string) {
	if regOK.Load() {
		ioFailures.WithLabelValues(streamClass, op).Inc()
	}
}

func AddOpenStreams(streamClass string, delta int) {
	if regOK.Load() {
		openStreams.WithLabelValues(streamClass).Add(float64(delta))
	}
}

func IncMetadataWrites() {
	if regOK.Load() {
		metadataWrites.Inc()
	}
}
