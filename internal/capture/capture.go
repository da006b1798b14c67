// Package capture reads live traffic from a network interface through an
// AF_PACKET TPACKET_V3 ring. It only feeds the shared memory ring; the
// splitter itself never captures.
package capture

import (
	"fmt"
	"time"

	"firestige.xyz/pcapsplit/internal/core"
)

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxBlockSize     = 4 << 20

	defaultSnapLen     = 65535
	defaultBufferSize  = 64 << 20
	defaultPollTimeout = 100 * time.Millisecond
)

// Config selects the interface and sizes the kernel ring.
type Config struct {
	Interface   string
	SnapLen     int
	BufferSize  int           // kernel ring size in bytes
	PollTimeout time.Duration // idle time before a heartbeat is emitted
	FanoutID    uint16        // join a hash fanout group when non-zero
}

func (c Config) withDefaults() Config {
	if c.SnapLen <= 0 {
		c.SnapLen = defaultSnapLen
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	return c
}

// ringGeometry picks frame and block sizes that satisfy PACKET_MMAP: frames
// aligned to 16 bytes, blocks a multiple of both the page size and the frame
// size, and blocks*size close to the requested budget.
func ringGeometry(budget, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if budget <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: capture buffer must be positive, got %d", core.ErrConfigInvalid, budget)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: snaplen must be positive, got %d", core.ErrConfigInvalid, snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("%w: page size %d not a multiple of %d", core.ErrConfigInvalid, pageSize, tpacketAlignment)
	}

	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment

	blockSize = lcm(pageSize, frameSize)
	if blockSize < frameSize {
		blockSize = frameSize
	}
	if blockSize > maxBlockSize {
		frames := maxBlockSize / frameSize
		if frames < 1 {
			frames = 1
		}
		blockSize = (frames*frameSize + pageSize - 1) / pageSize * pageSize
	}

	numBlocks = budget / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
