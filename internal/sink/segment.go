package sink

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/pcapio"
	"firestige.xyz/pcapsplit/internal/split"
)

// DefaultBufferSize is the write buffer in front of every output.
const DefaultBufferSize = 1 << 20

// Report describes a segment. It is complete once the segment is closed.
type Report struct {
	Transport string
	Final     string
	Pending   string
	Bytes     uint64 // bytes handed to the transport, header included
	Packets   uint64
	Dropped   uint64 // packets discarded after a write failure
	Opened    time.Time
	Closed    time.Time
	FirstTS   int64 // first and last packet timestamps, 0 while empty
	LastTS    int64
	Boundary  split.Boundary
	Err       error
}

// Elapsed is the wall time the segment was open.
func (r Report) Elapsed() time.Duration {
	if r.Closed.IsZero() {
		return time.Since(r.Opened)
	}
	return r.Closed.Sub(r.Opened)
}

// StreamSpan is the capture time covered by the segment's packets.
func (r Report) StreamSpan() time.Duration {
	return time.Duration(r.LastTS - r.FirstTS)
}

// Segment is one output file in the making.
type Segment struct {
	out    Output
	bw     *bufio.Writer
	report Report
	err    error
	closed bool
}

// Open creates the segment that will be published as final and writes the
// canonical file header to it.
func Open(ctx context.Context, t Transport, final string, b split.Boundary) (*Segment, error) {
	pending := final + PendingSuffix
	out, err := t.Create(ctx, pending, final)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", pending, err)
	}
	s := &Segment{
		out: out,
		bw:  bufio.NewWriterSize(out, DefaultBufferSize),
		report: Report{
			Transport: t.Name(),
			Final:     final,
			Pending:   pending,
			Opened:    time.Now(),
			Boundary:  b,
		},
	}
	if err := pcapio.WriteHeader(s.bw); err != nil {
		_ = out.Abort()
		return nil, fmt.Errorf("write header %s: %w", pending, err)
	}
	s.report.Bytes = pcapio.FileHeaderLen
	return s, nil
}

// WritePacket appends rec. After the first failure the segment is marked
// failed and every further packet is dropped with the same error.
func (s *Segment) WritePacket(rec *core.PacketRecord) error {
	if s.closed {
		return core.ErrSegmentClosed
	}
	if s.err != nil {
		s.report.Dropped++
		return s.err
	}
	if _, err := pcapio.WriteRecord(s.bw, rec); err != nil {
		return s.fail(err)
	}
	if s.report.Packets == 0 {
		s.report.FirstTS = rec.Timestamp
	}
	s.report.LastTS = rec.Timestamp
	s.report.Packets++
	s.report.Bytes += pcapio.RecordSize(rec)
	return nil
}

func (s *Segment) fail(err error) error {
	s.err = fmt.Errorf("write %s: %w", s.report.Pending, err)
	s.report.Dropped++
	return s.err
}

// Failed reports whether a write has failed.
func (s *Segment) Failed() bool {
	return s.err != nil
}

// Close publishes the segment, or aborts it if a write failed. Closing an
// already closed segment does nothing.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() { s.report.Closed = time.Now() }()

	if s.err == nil {
		if err := s.bw.Flush(); err != nil {
			s.err = fmt.Errorf("flush %s: %w", s.report.Pending, err)
		}
	}
	if s.err != nil {
		_ = s.out.Abort()
		s.report.Err = s.err
		return s.err
	}
	if err := s.out.Commit(); err != nil {
		s.report.Err = fmt.Errorf("publish %s: %w", s.report.Final, err)
		return s.report.Err
	}
	return nil
}

// Report returns a snapshot of the segment's accounting.
func (s *Segment) Report() Report {
	return s.report
}
