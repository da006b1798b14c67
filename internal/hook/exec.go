package hook

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"time"

	"firestige.xyz/pcapsplit/internal/sink"
)

const defaultExecTimeout = time.Minute

// ExecConfig names commands run synchronously around each segment.
// Arguments describing the segment are appended to the configured argv.
type ExecConfig struct {
	Open    []string      `mapstructure:"open" yaml:"open,omitempty"`
	Close   []string      `mapstructure:"close" yaml:"close,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// ExecHook runs external commands.
//
// On open the command receives the final segment name. On close it receives
//
//	final bytes packets wall_ns stream_ns window_time window_previous
type ExecHook struct {
	open    []string
	close   []string
	timeout time.Duration
}

func NewExec(cfg ExecConfig) *ExecHook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecHook{open: cfg.Open, close: cfg.Close, timeout: timeout}
}

func (h *ExecHook) Name() string { return "exec" }

func (h *ExecHook) SegmentOpened(ctx context.Context, r sink.Report) error {
	if len(h.open) == 0 {
		return nil
	}
	return h.run(ctx, h.open, r.Final)
}

func (h *ExecHook) SegmentClosed(ctx context.Context, r sink.Report) error {
	if len(h.close) == 0 {
		return nil
	}
	return h.run(ctx, h.close, CloseArgs(r)...)
}

// CloseArgs renders the positional arguments passed on close.
func CloseArgs(r sink.Report) []string {
	return []string{
		r.Final,
		strconv.FormatUint(r.Bytes, 10),
		strconv.FormatUint(r.Packets, 10),
		strconv.FormatInt(r.Elapsed().Nanoseconds(), 10),
		strconv.FormatInt(r.StreamSpan().Nanoseconds(), 10),
		strconv.FormatInt(r.Boundary.Time, 10),
		strconv.FormatInt(r.Boundary.Previous, 10),
	}
}

func (h *ExecHook) run(ctx context.Context, argv []string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	full := append(append([]string{}, argv[1:]...), args...)
	cmd := exec.CommandContext(ctx, argv[0], full...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
