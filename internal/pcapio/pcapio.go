// Package pcapio encodes the canonical output form of every segment.
package pcapio

import (
	"encoding/binary"
	"io"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pcapsplit/internal/core"
)

// Input magic numbers, as read little-endian from the first four bytes of a stream.
const (
	MagicNano  uint32 = 0xa1b23c4d
	MagicMicro uint32 = 0xa1b2c3d4
)

const (
	// FileHeaderLen is the size of the global pcap header.
	FileHeaderLen = 24
	// RecordHeaderLen is the size of every per-packet record header.
	RecordHeaderLen = 16

	// CanonicalSnapLen is written to every output header regardless of input.
	CanonicalSnapLen = 0xFFFF
)

// CanonicalLinkType is the link type stamped on every output segment.
var CanonicalLinkType = layers.LinkTypeEthernet

// WriteHeader writes the canonical nanosecond-resolution header.
func WriteHeader(w io.Writer) error {
	return pcapgo.NewWriterNanos(w).WriteFileHeader(CanonicalSnapLen, CanonicalLinkType)
}

// CanonicalHeader returns the canonical header bytes.
func CanonicalHeader() []byte {
	b := make([]byte, FileHeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], MagicNano)
	binary.LittleEndian.PutUint16(b[4:6], 2)
	binary.LittleEndian.PutUint16(b[6:8], 4)
	binary.LittleEndian.PutUint32(b[16:20], CanonicalSnapLen)
	binary.LittleEndian.PutUint32(b[20:24], uint32(CanonicalLinkType))
	return b
}

// RecordSize is the number of bytes rec occupies in an output segment.
func RecordSize(rec *core.PacketRecord) uint64 {
	return RecordHeaderLen + uint64(rec.CaptureLength)
}

// PutRecordHeader encodes the 16-byte record header for rec into dst.
// pcapgo.Writer is not used for records because it rejects captured lengths
// larger than the wire length, which some capture hardware emits.
func PutRecordHeader(dst []byte, rec *core.PacketRecord) {
	_ = dst[RecordHeaderLen-1]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(rec.Timestamp/1e9))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(rec.Timestamp%1e9))
	binary.LittleEndian.PutUint32(dst[8:12], rec.CaptureLength)
	binary.LittleEndian.PutUint32(dst[12:16], rec.WireLength)
}

// WriteRecord writes rec verbatim: header, then exactly CaptureLength payload bytes.
func WriteRecord(w io.Writer, rec *core.PacketRecord) (int, error) {
	var hdr [RecordHeaderLen]byte
	PutRecordHeader(hdr[:], rec)
	n, err := w.Write(hdr[:])
	if err != nil {
		return n, err
	}
	m, err := w.Write(rec.Data[:rec.CaptureLength])
	return n + m, err
}
