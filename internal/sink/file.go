package sink

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"firestige.xyz/pcapsplit/internal/core"
)

// FileName writes segments to the local filesystem.
const FileName = "file"

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

func init() {
	Register(FileName, func(cfg Config) (Transport, error) { return NewFileTransport(cfg) })
}

// FileTransport writes each segment to <final>.pending, optionally through
// in-process compression or an external filter command, and renames it to
// its final name on commit.
type FileTransport struct {
	filter      []string
	compression string
	mode        os.FileMode
	makeDirs    bool
}

func NewFileTransport(cfg Config) (*FileTransport, error) {
	comp := cfg.Compression
	switch comp {
	case "":
		comp = CompressionNone
	case CompressionNone, CompressionSnappy, CompressionGzip:
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", core.ErrConfigInvalid, comp)
	}
	mode := cfg.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}
	return &FileTransport{filter: cfg.Filter, compression: comp, mode: mode, makeDirs: cfg.MakeDirs}, nil
}

func (t *FileTransport) Name() string { return FileName }

func (t *FileTransport) Describe(final string) string {
	pending := final + PendingSuffix
	if len(t.filter) > 0 {
		return fmt.Sprintf("%s > %s", describe(expand(t.filter, pending, final)), pending)
	}
	if t.compression != CompressionNone {
		return fmt.Sprintf("%s > %s", t.compression, pending)
	}
	return pending
}

func (t *FileTransport) Create(_ context.Context, pending, final string) (Output, error) {
	if t.makeDirs {
		if err := os.MkdirAll(filepath.Dir(final), defaultDirMode); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(pending, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, t.mode)
	if err != nil {
		return nil, err
	}
	o := &fileOutput{f: f, pending: pending, final: final}
	o.w = f
	if len(t.filter) > 0 {
		p, err := startProcess(expand(t.filter, pending, final), f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		o.proc = p
		o.w = p
	}
	switch t.compression {
	case CompressionSnappy:
		o.comp = snappy.NewBufferedWriter(o.w)
		o.w = o.comp
	case CompressionGzip:
		o.comp = gzip.NewWriter(o.w)
		o.w = o.comp
	}
	return o, nil
}

type fileOutput struct {
	f       *os.File
	proc    *process
	comp    io.WriteCloser
	w       io.Writer
	pending string
	final   string
}

func (o *fileOutput) Write(p []byte) (int, error) { return o.w.Write(p) }

func (o *fileOutput) Commit() error {
	var errs []error
	if o.comp != nil {
		errs = append(errs, o.comp.Close())
	}
	if o.proc != nil {
		errs = append(errs, o.proc.finish())
	}
	errs = append(errs, o.f.Sync(), o.f.Close())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return os.Rename(o.pending, o.final)
}

// Abort leaves the pending file in place for inspection.
func (o *fileOutput) Abort() error {
	if o.proc != nil {
		o.proc.kill()
	}
	return o.f.Close()
}
