// Package core defines core types.
package core

import (
	"fmt"

	"github.com/google/gopacket/layers"
)

// Format identifies the encoding family of an input stream.
type Format int

const (
	FormatUnknown Format = iota
	FormatPCAPNano
	FormatPCAPMicro
	FormatChunked
	FormatRing
	FormatLive
)

func (f Format) String() string {
	switch f {
	case FormatPCAPNano:
		return "pcap-nano"
	case FormatPCAPMicro:
		return "pcap-usec"
	case FormatChunked:
		return "chunked"
	case FormatRing:
		return "ring"
	case FormatLive:
		return "live"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// CaptureHeader is the per-stream metadata read once at stream start.
// It is immutable after the decoder is constructed.
type CaptureHeader struct {
	Format    Format
	LinkType  layers.LinkType
	SnapLen   uint32
	TimeScale int64 // multiplier turning the sub-second field into nanoseconds
}
