// Package core defines core data structures with minimal external dependencies.
package core

import (
	"time"
)

// MaxCaptureLength bounds the captured length of any record decoded from a
// byte stream. Anything larger is treated as corruption.
const MaxCaptureLength = 128 * 1024

// Record flags.
const (
	FlagFCSError uint8 = 1 << 0 // frame check sequence failed on capture
)

// PacketRecord is the normalized unit every decoder produces and every sink consumes.
type PacketRecord struct {
	Timestamp     int64  // nanoseconds since Unix epoch
	CaptureLength uint32 // bytes physically present in Data
	WireLength    uint32 // original on-wire length, 0 for heartbeat records
	Port          uint8  // capture port, chunked input only
	Flags         uint8
	Data          []byte // borrowed from the decoder, valid until its next Next() call
}

// IsHeartbeat reports whether the record only advances the clock.
func (r *PacketRecord) IsHeartbeat() bool {
	return r.WireLength == 0
}

// FCSError reports whether the capture hardware flagged a bad frame check sequence.
func (r *PacketRecord) FCSError() bool {
	return r.Flags&FlagFCSError != 0
}

// Time returns the record timestamp as time.Time.
func (r *PacketRecord) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// Trim removes n trailing bytes from both lengths.
// It fails with ErrTrimUnderflow rather than wrapping below zero.
func (r *PacketRecord) Trim(n uint32) error {
	if n == 0 {
		return nil
	}
	if r.CaptureLength < n || r.WireLength < n {
		return ErrTrimUnderflow
	}
	r.CaptureLength -= n
	r.WireLength -= n
	r.Data = r.Data[:r.CaptureLength]
	return nil
}
