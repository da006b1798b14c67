// Package naming turns segment boundaries into output file names.
package naming

import (
	"fmt"
	"strconv"
	"time"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/split"
)

// Filename modes.
const (
	ModeEpochSec         = "epoch-sec"
	ModeEpochSecStartEnd = "epoch-sec-startend"
	ModeEpochMsec        = "epoch-msec"
	ModeEpochUsec        = "epoch-usec"
	ModeEpochNsec        = "epoch-nsec"
	ModeTstrHHMM         = "tstr-HHMM"
	ModeTstrHHMMSS       = "tstr-HHMMSS"
	ModeTstrHHMMSSNS     = "tstr-HHMMSS_NS"
)

// DefaultSuffix is appended when no suffix is configured.
const DefaultSuffix = ".pcap"

// Modes lists every accepted mode.
var Modes = []string{
	ModeEpochSec, ModeEpochSecStartEnd, ModeEpochMsec, ModeEpochUsec,
	ModeEpochNsec, ModeTstrHHMM, ModeTstrHHMMSS, ModeTstrHHMMSSNS,
}

// Formatter names a segment from its boundary.
type Formatter struct {
	mode   string
	suffix string
	loc    *time.Location
}

// New validates mode. Time-string modes render in loc, UTC when nil.
func New(mode, suffix string, loc *time.Location) (*Formatter, error) {
	if !Valid(mode) {
		return nil, fmt.Errorf("%w: unknown filename mode %q", core.ErrConfigInvalid, mode)
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{mode: mode, suffix: suffix, loc: loc}, nil
}

// Valid reports whether mode is a known filename mode.
func Valid(mode string) bool {
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (f *Formatter) Mode() string { return f.mode }

// Format returns base followed by the mode-specific stamp and the suffix.
// Every mode stamps b.Time except epoch-sec-startend, which spans the window
// [Time, End) in time mode and the interval since the previous split in
// byte mode, where End is zero.
func (f *Formatter) Format(base string, b split.Boundary) string {
	ts := b.Time
	var stamp string
	switch f.mode {
	case ModeEpochSec:
		stamp = strconv.FormatInt(ts/1e9, 10)
	case ModeEpochSecStartEnd:
		from, to := b.Previous, b.Time
		if b.End != 0 {
			from, to = b.Time, b.End
		}
		stamp = strconv.FormatInt(from/1e9, 10) + "-" + strconv.FormatInt(to/1e9, 10)
	case ModeEpochMsec:
		stamp = strconv.FormatInt(ts/1e6, 10)
	case ModeEpochUsec:
		stamp = strconv.FormatInt(ts/1e3, 10)
	case ModeEpochNsec:
		stamp = strconv.FormatInt(ts, 10)
	case ModeTstrHHMM:
		stamp = time.Unix(0, ts).In(f.loc).Format("_20060102_1504")
	case ModeTstrHHMMSS:
		stamp = time.Unix(0, ts).In(f.loc).Format("_20060102_150405")
	case ModeTstrHHMMSSNS:
		t := time.Unix(0, ts).In(f.loc)
		ns := t.Nanosecond()
		stamp = fmt.Sprintf("%s.%03d.%03d.%03d", t.Format("_20060102_150405"),
			ns/1e6, ns/1e3%1e3, ns%1e3)
	}
	return base + stamp + f.suffix
}
