// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the ADR-021 error handling pattern.
var (
	// Input decoding errors
	ErrCorrupt       = errors.New("pcapsplit: corrupt input")
	ErrUnknownFormat = errors.New("pcapsplit: unknown input format")

	// Ring source errors
	ErrWouldBlock = errors.New("pcapsplit: no data available")
	ErrRingClosed = errors.New("pcapsplit: ring closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("pcapsplit: invalid configuration")
	ErrTrimUnderflow = errors.New("pcapsplit: trim exceeds packet length")

	// Segment errors
	ErrSegmentClosed = errors.New("pcapsplit: segment already closed")
)
