package split

import (
	"time"

	"firestige.xyz/pcapsplit/internal/log"
)

const (
	defaultMaxSuppressLog = 16

	// alignLead pushes the first aligned boundary out by this fraction of a
	// period so the first segment is never a sliver.
	alignLead = 0.10
)

// TimePolicy cuts the stream into windows of a fixed duration.
//
// Without alignment a boundary fires when a packet lands more than one window
// away from the current window start, in either direction, and the new start
// is the window multiple nearest to the packet (rounded up within RoundUp of
// a window). With alignment boundaries fire exactly at wall-clock multiples
// of the window in the configured location.
type TimePolicy struct {
	window  int64
	roundUp int64
	align   bool
	loc     *time.Location

	started bool
	start   int64 // current window start
	floor   int64 // earliest timestamp still considered on time for this window
	alignAt int64 // next aligned boundary

	suppressed     uint64
	maxSuppressLog int
	log            log.Logger
}

// NewTime returns a time-window policy.
func NewTime(cfg Config, logger log.Logger) *TimePolicy {
	maxLog := cfg.MaxSuppressLog
	if maxLog == 0 {
		maxLog = defaultMaxSuppressLog
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	w := int64(cfg.Window)
	return &TimePolicy{
		window:         w,
		roundUp:        int64(cfg.RoundUp * float64(w)),
		align:          cfg.Align,
		loc:            loc,
		maxSuppressLog: maxLog,
		log:            logger,
	}
}

func (p *TimePolicy) Name() string { return ModeTime }

// Suppressed returns how many late packets were kept in their segment
// instead of opening a new one.
func (p *TimePolicy) Suppressed() uint64 {
	return p.suppressed
}

func (p *TimePolicy) Decide(ts int64, size uint64, real bool) Verdict {
	if !p.started {
		if !real {
			return Verdict{}
		}
		return p.resync(ts)
	}
	if p.align {
		return p.decideAligned(ts)
	}

	dT := ts - p.start
	if dT > p.window || dT < -p.window {
		if dT < 0 {
			p.log.WithFields(map[string]interface{}{
				"window_start": p.start,
				"packet_ts":    ts,
			}).Warn("timestamp jumped backwards more than one window, forcing a new segment")
		}
		return p.advance(p.round(ts))
	}
	return Verdict{}
}

func (p *TimePolicy) decideAligned(ts int64) Verdict {
	pct := float64(p.alignAt-ts) / float64(p.window)
	if pct <= 0 {
		start := p.alignAt + floorDiv(ts-p.alignAt, p.window)*p.window
		p.alignAt = start + p.window
		return p.advance(start)
	}
	if ts >= p.floor {
		return Verdict{}
	}
	if p.floor-ts > p.window {
		p.log.WithFields(map[string]interface{}{
			"window_start": p.start,
			"packet_ts":    ts,
		}).Warn("timestamp jumped backwards more than one window, realigning")
		return p.resync(ts)
	}

	// late packet from the previous window: keep it with the current segment
	p.suppressed++
	if p.suppressed <= uint64(p.maxSuppressLog) {
		l := p.log.WithFields(map[string]interface{}{
			"window_start": p.start,
			"packet_ts":    ts,
			"late_ns":      p.start - ts,
		})
		if p.suppressed == uint64(p.maxSuppressLog) {
			l.Warn("late packet kept in current segment, further occurrences not logged")
		} else {
			l.Warn("late packet kept in current segment")
		}
	}
	return Verdict{}
}

// resync starts over from ts as if it were the first packet.
func (p *TimePolicy) resync(ts int64) Verdict {
	first := !p.started
	p.started = true

	var start int64
	if p.align {
		p.alignAt = p.nextAligned(ts)
		start = p.alignAt - p.window
	} else {
		start = p.round(ts)
	}
	prev := p.start
	if first {
		prev = start
	}
	p.start = start
	p.floor = start
	if ts < p.floor {
		p.floor = ts
	}
	return Verdict{Split: true, Boundary: Boundary{Time: start, Previous: prev, End: start + p.window}}
}

func (p *TimePolicy) advance(start int64) Verdict {
	prev := p.start
	p.start = start
	p.floor = start
	return Verdict{Split: true, Boundary: Boundary{Time: start, Previous: prev, End: start + p.window}}
}

// round returns the window multiple nearest below ts+roundUp.
func (p *TimePolicy) round(ts int64) int64 {
	return floorDiv(ts+p.roundUp, p.window) * p.window
}

// nextAligned rounds ts, pushed out by alignLead of a period, up to the next
// wall-clock multiple of the window in p.loc.
func (p *TimePolicy) nextAligned(ts int64) int64 {
	_, offset := time.Unix(0, ts).In(p.loc).Zone()
	off := int64(offset) * int64(time.Second)
	local := ts + int64(alignLead*float64(p.window)) + off
	return ceilDiv(local, p.window)*p.window - off
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
