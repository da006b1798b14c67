package decoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
	"github.com/lunixbochs/struc"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/metrics"
)

// Chunked stream framing.
//
//	stream header  16 bytes  {Magic, Version, Reserved, LinkType, SnapLen}
//	block header   32 bytes  {PktCnt, Reserved, Length, TSStart, TSEnd, SeqID, Reserved}
//	block body     Length bytes of sub-records
//	sub-record     24 bytes  {TS, CaptureLength, WireLength, Port, Flags, 6 pad}
//	               followed by CaptureLength payload bytes padded to 8
const (
	ChunkedMagic   uint32 = 0x464d4144 // "DAMF" on disk
	ChunkedVersion uint16 = 1

	ChunkedStreamHeaderLen = 16
	ChunkedBlockHeaderLen  = 32
	ChunkedRecordHeaderLen = 24

	// MaxBlockLength bounds one block body; larger blocks are corruption.
	MaxBlockLength = 4 << 20
)

// ChunkedStreamHeader opens a chunked stream.
type ChunkedStreamHeader struct {
	Magic    uint32 `struc:",little"`
	Version  uint16 `struc:",little"`
	Reserved uint16 `struc:",little"`
	LinkType uint32 `struc:",little"`
	SnapLen  uint32 `struc:",little"`
}

// ChunkedBlockHeader describes a batch of PktCnt sub-records.
type ChunkedBlockHeader struct {
	PktCnt    uint16 `struc:",little"`
	Reserved0 uint16 `struc:",little"`
	Length    uint32 `struc:",little"`
	TSStart   uint64 `struc:",little"`
	TSEnd     uint64 `struc:",little"`
	SeqID     uint32 `struc:",little"`
	Reserved1 uint32 `struc:",little"`
}

// ChunkedRecordSize is the body space one sub-record with caplen payload bytes takes.
func ChunkedRecordSize(caplen uint32) int {
	return ChunkedRecordHeaderLen + int((caplen+7)&^7)
}

type chunkedDecoder struct {
	r      *bufio.Reader
	src    io.Reader
	opts   Options
	header core.CaptureHeader

	hbuf      [ChunkedBlockHeaderLen]byte
	block     []byte
	off       int
	remaining int
	lastSeq   uint32
	seqGaps   uint64
	rec       core.PacketRecord
}

func newChunked(r *bufio.Reader, src io.Reader, opts Options) (*chunkedDecoder, error) {
	var raw [ChunkedStreamHeaderLen]byte
	if err := readFull(r, raw[:], "chunked stream header"); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: empty chunked header", core.ErrCorrupt)
		}
		return nil, err
	}
	var sh ChunkedStreamHeader
	if err := struc.Unpack(bytes.NewReader(raw[:]), &sh); err != nil {
		return nil, fmt.Errorf("%w: chunked stream header: %v", core.ErrCorrupt, err)
	}
	if sh.Version != ChunkedVersion {
		return nil, fmt.Errorf("%w: chunked version %d", core.ErrUnknownFormat, sh.Version)
	}
	return &chunkedDecoder{
		r:     r,
		src:   src,
		opts:  opts,
		block: make([]byte, 0, 256*1024),
		header: core.CaptureHeader{
			Format:    core.FormatChunked,
			LinkType:  layers.LinkType(sh.LinkType),
			SnapLen:   sh.SnapLen,
			TimeScale: 1,
		},
	}, nil
}

func (d *chunkedDecoder) Header() core.CaptureHeader {
	return d.header
}

// SeqGaps reports how many times a block sequence id skipped ahead.
func (d *chunkedDecoder) SeqGaps() uint64 {
	return d.seqGaps
}

func (d *chunkedDecoder) Next() (*core.PacketRecord, error) {
	for d.remaining == 0 {
		if err := d.loadBlock(); err != nil {
			return nil, err
		}
	}

	if d.off+ChunkedRecordHeaderLen > len(d.block) {
		return nil, fmt.Errorf("%w: sub-record header overruns block", core.ErrCorrupt)
	}
	h := d.block[d.off : d.off+ChunkedRecordHeaderLen]
	caplen := binary.LittleEndian.Uint32(h[8:12])
	wirelen := binary.LittleEndian.Uint32(h[12:16])

	// heartbeats may be empty, real records may not
	if caplen > core.MaxCaptureLength || (caplen == 0 && wirelen != 0) {
		return nil, fmt.Errorf("%w: invalid packet length %d", core.ErrCorrupt, caplen)
	}
	size := ChunkedRecordSize(caplen)
	if d.off+size > len(d.block) {
		return nil, fmt.Errorf("%w: sub-record payload overruns block", core.ErrCorrupt)
	}

	payload := d.block[d.off+ChunkedRecordHeaderLen : d.off+ChunkedRecordHeaderLen+int(caplen)]
	d.rec = core.PacketRecord{
		Timestamp:     int64(binary.LittleEndian.Uint64(h[0:8])),
		CaptureLength: caplen,
		WireLength:    wirelen,
		Port:          h[16],
		Flags:         h[17],
		Data:          payload,
	}
	d.off += size
	d.remaining--
	return &d.rec, nil
}

// loadBlock reads the next non-empty block into the internal buffer. Empty
// keep-alive blocks are skipped up to MaxEmptyBlocks in a row.
func (d *chunkedDecoder) loadBlock() error {
	empty := 0
	for {
		if err := readFull(d.r, d.hbuf[:], "chunk header"); err != nil {
			return err
		}
		var bh ChunkedBlockHeader
		if err := struc.Unpack(bytes.NewReader(d.hbuf[:]), &bh); err != nil {
			return fmt.Errorf("%w: chunk header: %v", core.ErrCorrupt, err)
		}
		if bh.Length > MaxBlockLength {
			return fmt.Errorf("%w: chunk length %d", core.ErrCorrupt, bh.Length)
		}
		if d.lastSeq != 0 && bh.SeqID != d.lastSeq+1 {
			d.seqGaps++
			metrics.ChunkSeqGapsTotal.Inc()
		}
		d.lastSeq = bh.SeqID

		if bh.PktCnt == 0 {
			empty++
			if empty > d.opts.MaxEmptyBlocks {
				return fmt.Errorf("%w: %d consecutive empty chunks", core.ErrCorrupt, empty)
			}
			if bh.Length > 0 {
				if _, err := io.CopyN(io.Discard, d.r, int64(bh.Length)); err != nil {
					return fmt.Errorf("%w: short keep-alive chunk: %v", core.ErrCorrupt, err)
				}
			}
			continue
		}

		if int(bh.Length) < int(bh.PktCnt)*ChunkedRecordHeaderLen {
			return fmt.Errorf("%w: chunk length %d too small for %d packets",
				core.ErrCorrupt, bh.Length, bh.PktCnt)
		}
		if cap(d.block) < int(bh.Length) {
			d.block = make([]byte, bh.Length)
		}
		d.block = d.block[:bh.Length]
		if err := readFull(d.r, d.block, "chunk body"); err != nil {
			if err == io.EOF {
				err = fmt.Errorf("%w: chunk body missing", core.ErrCorrupt)
			}
			return err
		}
		d.off = 0
		d.remaining = int(bh.PktCnt)
		return nil
	}
}

func (d *chunkedDecoder) Close() error {
	return closeSource(d.src)
}
