package split

// BytePolicy starts a new segment once the current one has grown past a
// threshold. The packet that finds the counter above the threshold opens the
// next segment, so every finished segment holds at least threshold bytes.
type BytePolicy struct {
	threshold uint64
	count     uint64
	last      int64
	started   bool
}

// NewBytes returns a byte-count policy. The first packet always opens a segment.
func NewBytes(threshold uint64) *BytePolicy {
	return &BytePolicy{threshold: threshold}
}

func (p *BytePolicy) Name() string { return ModeByte }

func (p *BytePolicy) Decide(ts int64, size uint64, real bool) Verdict {
	if !real {
		return Verdict{}
	}
	var v Verdict
	if !p.started || p.count > p.threshold {
		prev := p.last
		if !p.started {
			prev = ts
		}
		v = Verdict{Split: true, Boundary: Boundary{Time: ts, Previous: prev}}
		p.started = true
		p.last = ts
		p.count = 0
	}
	p.count += size
	return v
}

// Count returns the bytes accounted to the current segment.
func (p *BytePolicy) Count() uint64 {
	return p.count
}
