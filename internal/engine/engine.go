// Package engine drives the split: decode a record, decide, write, repeat.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/decoder"
	"firestige.xyz/pcapsplit/internal/hook"
	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/metrics"
	"firestige.xyz/pcapsplit/internal/pcapio"
	"firestige.xyz/pcapsplit/internal/sink"
	"firestige.xyz/pcapsplit/internal/split"
)

const (
	defaultProgressInterval = 1000000
	defaultPollInterval     = time.Millisecond
)

// State is the engine lifecycle position.
type State int32

const (
	StateAwaitingFirstPacket State = iota
	StateStreaming
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstPacket:
		return "awaiting-first-packet"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Namer turns a boundary into a segment name.
type Namer interface {
	Format(base string, b split.Boundary) string
}

// Config tunes the engine.
type Config struct {
	Base             string // output name prefix
	Chomp            uint32 // trailing bytes trimmed from every packet
	ProgressInterval uint64 // packets between progress lines
	PollInterval     time.Duration
	Location         *time.Location // for human readable stream times in logs
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Packets        uint64 // real packets decoded
	Bytes          uint64 // their output size, record headers included
	Heartbeats     uint64
	Segments       uint64 // segments published
	FailedSegments uint64
	Dropped        uint64 // packets not written because their segment failed
	SeqGaps        uint64 // input sequence gaps, known once Run returns
	LastTS         int64
}

type counters struct {
	packets, bytes, heartbeats atomic.Uint64
	segments, failed, dropped  atomic.Uint64
	seqGaps                    atomic.Uint64
	lastTS                     atomic.Int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHooks runs h around every segment.
func WithHooks(h hook.Hook) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger replaces the process logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine is a single-goroutine state machine. Only State and Stats may be
// called concurrently with Run.
type Engine struct {
	cfg       Config
	dec       decoder.Decoder
	policy    split.Policy
	transport sink.Transport
	namer     Namer
	hooks     hook.Hook
	log       log.Logger

	state atomic.Int32
	stats counters

	seg     *sink.Segment
	current string // name of the current segment, even if it failed to open
	started time.Time

	mPackets prometheus.Counter
	mBytes   prometheus.Counter
}

// New wires an engine. The decoder stays owned by the caller.
func New(cfg Config, dec decoder.Decoder, policy split.Policy, transport sink.Transport, namer Namer, opts ...Option) *Engine {
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	e := &Engine{
		cfg:       cfg,
		dec:       dec,
		policy:    policy,
		transport: transport,
		namer:     namer,
		hooks:     hook.Chain(nil),
		log:       log.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	format := dec.Header().Format.String()
	e.mPackets = metrics.PacketsTotal.WithLabelValues(format)
	e.mBytes = metrics.BytesTotal.WithLabelValues(format)
	e.setState(StateAwaitingFirstPacket)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Packets:        e.stats.packets.Load(),
		Bytes:          e.stats.bytes.Load(),
		Heartbeats:     e.stats.heartbeats.Load(),
		Segments:       e.stats.segments.Load(),
		FailedSegments: e.stats.failed.Load(),
		Dropped:        e.stats.dropped.Load(),
		SeqGaps:        e.stats.seqGaps.Load(),
		LastTS:         e.stats.lastTS.Load(),
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.EngineState.Set(float64(s))
}

// Run consumes the decoder until it ends, fails, or ctx is cancelled. In every
// case the open segment is published before Run returns. The returned error
// is nil for a clean end of input or a requested shutdown.
func (e *Engine) Run(ctx context.Context) error {
	e.started = time.Now()
	hdr := e.dec.Header()
	if hdr.LinkType != layers.LinkTypeEthernet {
		e.log.WithField("link_type", hdr.LinkType.String()).
			Warn("input link type is not Ethernet, segments are still stamped Ethernet")
	}
	e.log.WithFields(map[string]interface{}{
		"format":    hdr.Format.String(),
		"snaplen":   hdr.SnapLen,
		"policy":    e.policy.Name(),
		"transport": e.transport.Name(),
	}).Info("splitter started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("shutdown requested, draining")
			return e.finish(ctx, nil)
		default:
		}

		rec, err := e.dec.Next()
		switch {
		case err == nil:
		case errors.Is(err, core.ErrWouldBlock):
			e.idle(ctx)
			continue
		case errors.Is(err, io.EOF):
			return e.finish(ctx, nil)
		default:
			return e.finish(ctx, fmt.Errorf("decode: %w", err))
		}

		if err := e.process(ctx, rec); err != nil {
			return e.finish(ctx, err)
		}
	}
}

func (e *Engine) idle(ctx context.Context) {
	t := time.NewTimer(e.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) process(ctx context.Context, rec *core.PacketRecord) error {
	isPacket := !rec.IsHeartbeat()
	var size uint64
	if isPacket {
		if err := rec.Trim(e.cfg.Chomp); err != nil {
			return fmt.Errorf("packet at %d with capture length %d, wire length %d: %w",
				rec.Timestamp, rec.CaptureLength, rec.WireLength, err)
		}
		size = pcapio.RecordSize(rec)
	}

	if v := e.policy.Decide(rec.Timestamp, size, isPacket); v.Split {
		e.rotate(ctx, v.Boundary)
	}
	e.stats.lastTS.Store(rec.Timestamp)

	if !isPacket {
		e.stats.heartbeats.Add(1)
		metrics.HeartbeatsTotal.Inc()
		return nil
	}

	e.write(rec)
	n := e.stats.packets.Add(1)
	e.stats.bytes.Add(size)
	e.mPackets.Inc()
	e.mBytes.Add(float64(size))
	if n%e.cfg.ProgressInterval == 0 {
		e.progress(rec.Timestamp, "")
	}
	return nil
}

func (e *Engine) write(rec *core.PacketRecord) {
	if e.seg == nil {
		e.drop()
		return
	}
	failed := e.seg.Failed()
	if err := e.seg.WritePacket(rec); err != nil {
		e.drop()
		if !failed {
			metrics.SinkErrorsTotal.WithLabelValues(metrics.SinkOpWrite).Inc()
			e.log.WithError(err).WithField("segment", e.current).
				Error("segment write failed, dropping packets until the next boundary")
		}
	}
}

func (e *Engine) drop() {
	e.stats.dropped.Add(1)
	metrics.DroppedPacketsTotal.Inc()
}

// rotate publishes the current segment and opens the next one.
func (e *Engine) rotate(ctx context.Context, b split.Boundary) {
	if e.seg != nil {
		e.closeSegment(ctx)
	}

	e.current = e.namer.Format(e.cfg.Base, b)
	e.log.Debugf("[%s]", e.transport.Describe(e.current))
	seg, err := sink.Open(ctx, e.transport, e.current, b)
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(metrics.SinkOpOpen).Inc()
		e.log.WithError(err).WithField("segment", e.current).
			Error("cannot open segment, dropping packets until the next boundary")
	} else {
		e.seg = seg
		_ = e.hooks.SegmentOpened(ctx, seg.Report())
	}

	if e.State() == StateAwaitingFirstPacket {
		e.setState(StateStreaming)
	}
	e.progress(b.Time, "New Split")
}

func (e *Engine) closeSegment(ctx context.Context) {
	err := e.seg.Close()
	r := e.seg.Report()
	e.seg = nil

	l := e.log.WithFields(map[string]interface{}{
		"segment": r.Final,
		"packets": r.Packets,
		"bytes":   r.Bytes,
	})
	if err != nil {
		e.stats.failed.Add(1)
		metrics.SegmentsTotal.WithLabelValues(metrics.SegmentStatusFailed).Inc()
		metrics.SinkErrorsTotal.WithLabelValues(metrics.SinkOpClose).Inc()
		l.WithError(err).WithField("dropped", r.Dropped).Error("segment failed")
	} else {
		e.stats.segments.Add(1)
		metrics.SegmentsTotal.WithLabelValues(metrics.SegmentStatusPublished).Inc()
		metrics.SegmentBytes.Observe(float64(r.Bytes))
		l.Debug("segment published")
	}
	_ = e.hooks.SegmentClosed(ctx, r)
}

// finish drains: the open segment is published whatever the reason for stopping.
func (e *Engine) finish(ctx context.Context, cause error) error {
	e.setState(StateDraining)
	if e.seg != nil {
		e.closeSegment(context.WithoutCancel(ctx))
	}
	if gc, ok := e.dec.(decoder.GapCounter); ok {
		e.stats.seqGaps.Store(gc.SeqGaps())
	}
	e.setState(StateTerminated)

	st := e.Stats()
	l := e.log.WithFields(map[string]interface{}{
		"packets":    st.Packets,
		"bytes":      st.Bytes,
		"heartbeats": st.Heartbeats,
		"segments":   st.Segments,
		"failed":     st.FailedSegments,
		"dropped":    st.Dropped,
	})
	if st.SeqGaps > 0 {
		l = l.WithField("seq_gaps", st.SeqGaps)
		l.Warn("input sequence gaps detected, upstream lost blocks")
	}
	if cause != nil {
		l.WithError(cause).Error("splitter stopped on error")
		return cause
	}
	l.Info("Complete")
	return nil
}

// progress logs elapsed wall hours, the stream clock, the current segment and
// throughput so far.
func (e *Engine) progress(ts int64, note string) {
	elapsed := time.Since(e.started).Seconds()
	total := e.stats.bytes.Load()
	var gbps float64
	if elapsed > 0 {
		gbps = float64(total) * 8 / elapsed / 1e9
	}
	line := fmt.Sprintf("[%.3f H][%s] %s : Total Bytes %s Speed: %.3fGbps",
		elapsed/3600,
		time.Unix(0, ts).In(e.cfg.Location).Format("2006-01-02 15:04:05"),
		e.current,
		humanize.Bytes(total),
		gbps)
	if note != "" {
		line += " : " + note
	}
	e.log.Info(line)
}
