// Package decoder normalizes every supported input encoding into core.PacketRecord.
package decoder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/pcapio"
)

const (
	defaultBufferSize     = 1 << 20
	defaultMaxEmptyBlocks = 4096
)

// Decoder produces a lazy, finite sequence of packet records.
//
// Next returns io.EOF at a clean end of stream and core.ErrWouldBlock when a
// non-blocking source has nothing yet. Any other error is fatal. The returned
// record and its Data are only valid until the following call to Next.
type Decoder interface {
	Header() core.CaptureHeader
	Next() (*core.PacketRecord, error)
	Close() error
}

// GapCounter is implemented by decoders whose framing carries sequence ids.
type GapCounter interface {
	SeqGaps() uint64
}

// Options tunes stream decoders.
type Options struct {
	BufferSize     int // read buffer size, default 1 MiB
	MaxEmptyBlocks int // consecutive keep-alive chunks tolerated, default 4096
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.MaxEmptyBlocks <= 0 {
		o.MaxEmptyBlocks = defaultMaxEmptyBlocks
	}
	return o
}

// Open sniffs the 4-byte magic at the head of r and returns the matching decoder.
func Open(r io.Reader, opts Options) (Decoder, error) {
	opts = opts.withDefaults()
	br := bufio.NewReaderSize(r, opts.BufferSize)

	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading stream magic: %v", core.ErrCorrupt, err)
	}

	switch magic := binary.LittleEndian.Uint32(head); magic {
	case pcapio.MagicNano, pcapio.MagicMicro:
		return newPCAP(br, r)
	case ChunkedMagic:
		return newChunked(br, r, opts)
	default:
		return nil, fmt.Errorf("%w: magic 0x%08x", core.ErrUnknownFormat, magic)
	}
}

// closeSource closes the underlying source if it owns a resource.
func closeSource(src io.Reader) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readFull reads exactly len(buf) bytes. A clean EOF before the first byte is
// reported as io.EOF, anything shorter as corruption.
func readFull(r io.Reader, buf []byte, what string) error {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case err == io.EOF && n == 0:
		return io.EOF
	case err == io.ErrUnexpectedEOF:
		return fmt.Errorf("%w: short %s read %d expect %d", core.ErrCorrupt, what, n, len(buf))
	default:
		return fmt.Errorf("%s read: %w", what, err)
	}
}
