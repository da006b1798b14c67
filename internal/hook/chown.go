package hook

import (
	"context"
	"os"

	"firestige.xyz/pcapsplit/internal/sink"
)

// ChownConfig hands finished local segments to another owner.
type ChownConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	UID     int  `mapstructure:"uid" yaml:"uid"`
	GID     int  `mapstructure:"gid" yaml:"gid"`
}

// ChownHook changes the owner of each published local segment once.
type ChownHook struct {
	uid, gid int
}

func NewChown(cfg ChownConfig) *ChownHook {
	return &ChownHook{uid: cfg.UID, gid: cfg.GID}
}

func (h *ChownHook) Name() string { return "chown" }

func (h *ChownHook) SegmentOpened(context.Context, sink.Report) error { return nil }

func (h *ChownHook) SegmentClosed(_ context.Context, r sink.Report) error {
	if r.Err != nil || r.Transport != sink.FileName {
		return nil
	}
	return os.Chown(r.Final, h.uid, h.gid)
}
