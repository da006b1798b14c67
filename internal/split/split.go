// Package split decides where one output segment ends and the next begins.
package split

import (
	"fmt"
	"time"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/log"
)

// Boundary describes a new segment.
type Boundary struct {
	Time     int64 // nominal start: window start, or the triggering packet time in byte mode
	Previous int64 // the boundary before this one, equal to Time for the first segment
	End      int64 // nominal window end in time mode, 0 in byte mode
}

// Verdict is the answer for one packet.
type Verdict struct {
	Split    bool
	Boundary Boundary
}

// Policy is consulted once per decoded record, before it is written.
// size is the number of output bytes the record will occupy. real is false
// for heartbeat records, which are never written.
type Policy interface {
	Decide(ts int64, size uint64, real bool) Verdict
	Name() string
}

// Mode names accepted by New.
const (
	ModeByte = "byte"
	ModeTime = "time"
)

// DefaultRoundUp is the round-up fraction configurations start from.
const DefaultRoundUp = 0.25

// Config selects and tunes a policy.
type Config struct {
	Mode           string
	Bytes          uint64        // byte mode threshold
	Window         time.Duration // time mode window
	RoundUp        float64       // fraction of a window a boundary may be rounded up by, 0 disables
	Align          bool          // align windows to wall-clock multiples in Location
	Location       *time.Location
	MaxSuppressLog int // suppressed boundary events logged before going quiet, default 16
}

// New builds the policy named by cfg.Mode.
func New(cfg Config) (Policy, error) {
	switch cfg.Mode {
	case ModeByte:
		if cfg.Bytes == 0 {
			return nil, fmt.Errorf("%w: byte split requires a positive threshold", core.ErrConfigInvalid)
		}
		return NewBytes(cfg.Bytes), nil
	case ModeTime:
		if cfg.Window <= 0 {
			return nil, fmt.Errorf("%w: time split requires a positive window", core.ErrConfigInvalid)
		}
		if cfg.RoundUp < 0 || cfg.RoundUp >= 1 {
			return nil, fmt.Errorf("%w: roundup fraction %.3f outside [0,1)", core.ErrConfigInvalid, cfg.RoundUp)
		}
		return NewTime(cfg, log.GetLogger()), nil
	case "":
		return nil, fmt.Errorf("%w: no split mode selected", core.ErrConfigInvalid)
	default:
		return nil, fmt.Errorf("%w: unknown split mode %q", core.ErrConfigInvalid, cfg.Mode)
	}
}
