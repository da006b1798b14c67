package sink

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"firestige.xyz/pcapsplit/internal/core"
)

// PipeName streams segments into an external command, e.g. an rclone upload.
const PipeName = "pipe"

func init() {
	Register(PipeName, func(cfg Config) (Transport, error) { return NewPipeTransport(cfg) })
}

// PipeTransport feeds each segment to the Write command, optionally through
// the Filter command first. Commit waits for the writer to exit and then runs
// Move to give the segment its final name. Exit statuses are logged; nothing
// is retried.
type PipeTransport struct {
	filter []string
	write  []string
	move   []string
}

func NewPipeTransport(cfg Config) (*PipeTransport, error) {
	if len(cfg.Write) == 0 {
		return nil, fmt.Errorf("%w: pipe transport needs a write command", core.ErrConfigInvalid)
	}
	return &PipeTransport{filter: cfg.Filter, write: cfg.Write, move: cfg.Move}, nil
}

func (t *PipeTransport) Name() string { return PipeName }

func (t *PipeTransport) Describe(final string) string {
	pending := final + PendingSuffix
	s := describe(expand(t.write, pending, final))
	if len(t.filter) > 0 {
		s = describe(expand(t.filter, pending, final)) + " | " + s
	}
	return s
}

func (t *PipeTransport) Create(_ context.Context, pending, final string) (Output, error) {
	o := &pipeOutput{move: expand(t.move, pending, final)}
	if len(t.filter) == 0 {
		w, err := startProcess(expand(t.write, pending, final), os.Stderr)
		if err != nil {
			return nil, err
		}
		o.writer = w
		o.head = w
		return o, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	writer, err := startProcessFrom(expand(t.write, pending, final), r)
	_ = r.Close()
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	filter, err := startProcess(expand(t.filter, pending, final), w)
	_ = w.Close()
	if err != nil {
		_ = writer.Process.Kill()
		_ = writer.Wait()
		return nil, err
	}
	o.filter = filter
	o.head = filter
	o.tail = writer
	return o, nil
}

// startProcessFrom runs argv reading stdin from r.
func startProcessFrom(argv []string, r *os.File) (*exec.Cmd, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = r
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	return cmd, nil
}

type pipeOutput struct {
	head   *process  // receives segment bytes
	writer *process  // the write command when there is no filter
	filter *process  // the filter command when configured
	tail   *exec.Cmd // the write command behind a filter
	move   []string
}

func (o *pipeOutput) Write(p []byte) (int, error) { return o.head.Write(p) }

func (o *pipeOutput) Commit() error {
	if err := o.wait(); err != nil {
		return err
	}
	if len(o.move) == 0 {
		return nil
	}
	cmd := exec.Command(o.move[0], o.move[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	logExit(cmd, err)
	return err
}

func (o *pipeOutput) wait() error {
	if o.filter == nil {
		return o.writer.finish()
	}
	ferr := o.filter.finish()
	werr := o.tail.Wait()
	logExit(o.tail, werr)
	if ferr != nil {
		return ferr
	}
	return werr
}

func (o *pipeOutput) Abort() error {
	o.head.kill()
	if o.tail != nil {
		_ = o.tail.Wait()
	}
	return nil
}
