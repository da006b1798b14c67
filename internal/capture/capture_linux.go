//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pcapsplit/internal/core"
)

// Source is a live AF_PACKET capture.
type Source struct {
	handle *afpacket.TPacket
	cfg    Config
	rec    core.PacketRecord
}

// Open binds to cfg.Interface.
func Open(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: capture interface is required", core.ErrConfigInvalid)
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(cfg.BufferSize, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Interface, err)
	}
	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("join fanout group %d: %w", cfg.FanoutID, err)
		}
	}
	return &Source{handle: tp, cfg: cfg}, nil
}

// Header describes the capture. AF_PACKET raw sockets deliver Ethernet frames.
func (s *Source) Header() core.CaptureHeader {
	return core.CaptureHeader{
		Format:    core.FormatLive,
		LinkType:  layers.LinkTypeEthernet,
		SnapLen:   uint32(s.cfg.SnapLen),
		TimeScale: 1,
	}
}

// Next returns the next frame. When the interface stays quiet for a poll
// timeout it returns a heartbeat stamped with the wall clock so downstream
// time windows keep closing. The record is valid until the next call.
func (s *Source) Next() (*core.PacketRecord, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, afpacket.ErrTimeout), errors.Is(err, afpacket.ErrPoll):
		s.rec = core.PacketRecord{Timestamp: time.Now().UnixNano()}
		return &s.rec, nil
	default:
		return nil, err
	}
	s.rec = core.PacketRecord{
		Timestamp:     ci.Timestamp.UnixNano(),
		CaptureLength: uint32(ci.CaptureLength),
		WireLength:    uint32(ci.Length),
		Data:          data,
	}
	return &s.rec, nil
}

// Stats returns kernel side packet and drop counters.
func (s *Source) Stats() (packets, drops uint64, err error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return uint64(v3.Packets()), uint64(v3.Drops()), nil
}

func (s *Source) Close() error {
	s.handle.Close()
	return nil
}
