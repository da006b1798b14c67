package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
	"github.com/lunixbochs/struc"

	"firestige.xyz/pcapsplit/internal/core"
)

// ChunkedWriter produces a chunked stream, one block per WriteBlock call.
type ChunkedWriter struct {
	w   io.Writer
	seq uint32
	buf bytes.Buffer
}

// NewChunkedWriter writes the stream header and returns the writer.
func NewChunkedWriter(w io.Writer, linkType layers.LinkType, snapLen uint32) (*ChunkedWriter, error) {
	sh := ChunkedStreamHeader{
		Magic:    ChunkedMagic,
		Version:  ChunkedVersion,
		LinkType: uint32(linkType),
		SnapLen:  snapLen,
	}
	if err := struc.Pack(w, &sh); err != nil {
		return nil, err
	}
	return &ChunkedWriter{w: w, seq: 1}, nil
}

// WriteBlock writes recs as one block. An empty recs writes a keep-alive block.
func (cw *ChunkedWriter) WriteBlock(recs []core.PacketRecord) error {
	if len(recs) > 0xFFFF {
		return fmt.Errorf("chunked block holds at most 65535 packets, got %d", len(recs))
	}
	cw.buf.Reset()
	bh := ChunkedBlockHeader{PktCnt: uint16(len(recs)), SeqID: cw.seq}
	var sub [ChunkedRecordHeaderLen]byte
	var pad [8]byte
	for i := range recs {
		rec := &recs[i]
		if i == 0 {
			bh.TSStart = uint64(rec.Timestamp)
		}
		bh.TSEnd = uint64(rec.Timestamp)

		binary.LittleEndian.PutUint64(sub[0:8], uint64(rec.Timestamp))
		binary.LittleEndian.PutUint32(sub[8:12], rec.CaptureLength)
		binary.LittleEndian.PutUint32(sub[12:16], rec.WireLength)
		sub[16] = rec.Port
		sub[17] = rec.Flags
		cw.buf.Write(sub[:])
		cw.buf.Write(rec.Data[:rec.CaptureLength])
		cw.buf.Write(pad[:ChunkedRecordSize(rec.CaptureLength)-ChunkedRecordHeaderLen-int(rec.CaptureLength)])
	}
	if cw.buf.Len() > MaxBlockLength {
		return fmt.Errorf("chunked block of %d bytes exceeds %d", cw.buf.Len(), MaxBlockLength)
	}
	bh.Length = uint32(cw.buf.Len())
	if err := struc.Pack(cw.w, &bh); err != nil {
		return err
	}
	cw.seq++
	_, err := cw.w.Write(cw.buf.Bytes())
	return err
}
