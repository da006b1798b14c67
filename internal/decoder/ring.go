package decoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/ring"
)

// ringDecoder polls a shared memory ring of pre-decoded records.
type ringDecoder struct {
	r *ring.Reader
}

// NewRing wraps a ring reader. Its header is synthesized since rings carry none.
func NewRing(r *ring.Reader) Decoder {
	return &ringDecoder{r: r}
}

func (d *ringDecoder) Header() core.CaptureHeader {
	return core.CaptureHeader{
		Format:    core.FormatRing,
		LinkType:  layers.LinkTypeEthernet,
		SnapLen:   0xFFFF,
		TimeScale: 1,
	}
}

func (d *ringDecoder) Next() (*core.PacketRecord, error) {
	rec, err := d.r.Poll()
	switch {
	case err == nil:
	case errors.Is(err, ring.ErrEmpty):
		return nil, core.ErrWouldBlock
	case errors.Is(err, ring.ErrClosed):
		return nil, io.EOF
	default:
		return nil, err
	}
	if rec.CaptureLength > core.MaxCaptureLength || (rec.CaptureLength == 0 && !rec.IsHeartbeat()) {
		return nil, fmt.Errorf("%w: invalid packet length %d", core.ErrCorrupt, rec.CaptureLength)
	}
	return rec, nil
}

func (d *ringDecoder) Close() error {
	return d.r.Close()
}
