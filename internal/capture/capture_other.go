//go:build !linux

package capture

import (
	"errors"

	"firestige.xyz/pcapsplit/internal/core"
)

// Source is unavailable outside Linux.
type Source struct{}

func Open(Config) (*Source, error) {
	return nil, errors.New("live capture requires linux AF_PACKET")
}

func (*Source) Header() core.CaptureHeader        { return core.CaptureHeader{} }
func (*Source) Next() (*core.PacketRecord, error) { return nil, core.ErrWouldBlock }
func (*Source) Stats() (uint64, uint64, error)    { return 0, 0, nil }
func (*Source) Close() error                      { return nil }
