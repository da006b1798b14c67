// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets written, or dropped after a sink failure, by input format
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapsplit_packets_total",
			Help: "Total number of packets decoded",
		},
		[]string{"format"},
	)

	// BytesTotal counts output bytes of decoded packets, record headers included
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapsplit_bytes_total",
			Help: "Total number of output bytes of decoded packets",
		},
		[]string{"format"},
	)

	// HeartbeatsTotal counts heartbeat records, which only advance the clock
	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcapsplit_heartbeats_total",
			Help: "Total number of heartbeat records",
		},
	)

	// SegmentsTotal counts closed segments by outcome
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapsplit_segments_total",
			Help: "Total number of segments closed",
		},
		[]string{"status"},
	)

	// SinkErrorsTotal counts transport failures by operation
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapsplit_sink_errors_total",
			Help: "Total number of segment sink errors",
		},
		[]string{"op"},
	)

	// DroppedPacketsTotal counts packets that could not be written
	DroppedPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcapsplit_dropped_packets_total",
			Help: "Total number of packets dropped because their segment could not be written",
		},
	)

	// ChunkSeqGapsTotal counts chunked input blocks whose sequence id skipped ahead
	ChunkSeqGapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcapsplit_chunk_seq_gaps_total",
			Help: "Total number of sequence gaps seen between chunked input blocks",
		},
	)

	// SegmentBytes tracks the size distribution of closed segments
	SegmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pcapsplit_segment_bytes",
			Help:    "Size of closed segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10), // 1MiB to 256GiB
		},
	)

	// EngineState tracks the splitter state (0=awaiting, 1=streaming, 2=draining, 3=terminated)
	EngineState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pcapsplit_engine_state",
			Help: "Current splitter engine state",
		},
	)
)

// Segment outcomes.
const (
	SegmentStatusPublished = "published"
	SegmentStatusFailed    = "failed"
)

// Sink operations.
const (
	SinkOpOpen  = "open"
	SinkOpWrite = "write"
	SinkOpClose = "close"
)
