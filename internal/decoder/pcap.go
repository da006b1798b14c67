package decoder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/pcapio"
)

// pcapDecoder reads classic little-endian pcap with either nanosecond or
// microsecond timestamps.
type pcapDecoder struct {
	r      *bufio.Reader
	src    io.Reader
	header core.CaptureHeader
	hbuf   [pcapio.RecordHeaderLen]byte
	buf    []byte
	rec    core.PacketRecord
}

func newPCAP(r *bufio.Reader, src io.Reader) (*pcapDecoder, error) {
	var fh [pcapio.FileHeaderLen]byte
	if err := readFull(r, fh[:], "pcap header"); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: empty pcap header", core.ErrCorrupt)
		}
		return nil, err
	}

	d := &pcapDecoder{
		r:   r,
		src: src,
		buf: make([]byte, core.MaxCaptureLength),
		header: core.CaptureHeader{
			SnapLen:  binary.LittleEndian.Uint32(fh[16:20]),
			LinkType: layers.LinkType(binary.LittleEndian.Uint32(fh[20:24])),
		},
	}
	switch binary.LittleEndian.Uint32(fh[0:4]) {
	case pcapio.MagicNano:
		d.header.Format = core.FormatPCAPNano
		d.header.TimeScale = 1
	case pcapio.MagicMicro:
		d.header.Format = core.FormatPCAPMicro
		d.header.TimeScale = 1000
	}
	return d, nil
}

func (d *pcapDecoder) Header() core.CaptureHeader {
	return d.header
}

func (d *pcapDecoder) Next() (*core.PacketRecord, error) {
	if err := readFull(d.r, d.hbuf[:], "packet header"); err != nil {
		return nil, err
	}
	sec := binary.LittleEndian.Uint32(d.hbuf[0:4])
	frac := binary.LittleEndian.Uint32(d.hbuf[4:8])
	caplen := binary.LittleEndian.Uint32(d.hbuf[8:12])
	wirelen := binary.LittleEndian.Uint32(d.hbuf[12:16])

	if caplen == 0 || caplen > core.MaxCaptureLength {
		return nil, fmt.Errorf("%w: invalid packet length %d", core.ErrCorrupt, caplen)
	}
	if err := readFull(d.r, d.buf[:caplen], "payload"); err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: payload read 0 expect %d", core.ErrCorrupt, caplen)
		}
		return nil, err
	}

	d.rec = core.PacketRecord{
		Timestamp:     int64(sec)*1e9 + int64(frac)*d.header.TimeScale,
		CaptureLength: caplen,
		WireLength:    wirelen,
		Data:          d.buf[:caplen],
	}
	return &d.rec, nil
}

func (d *pcapDecoder) Close() error {
	return closeSource(d.src)
}
