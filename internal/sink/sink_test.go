package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/pcapio"
	"firestige.xyz/pcapsplit/internal/split"
)

func record(ts int64, size int) *core.PacketRecord {
	return &core.PacketRecord{
		Timestamp:     ts,
		CaptureLength: uint32(size),
		WireLength:    uint32(size),
		Data:          bytes.Repeat([]byte{0xab}, size),
	}
}

func writeSegment(t *testing.T, tr Transport, final string, n int) *Segment {
	t.Helper()
	seg, err := Open(context.Background(), tr, final, split.Boundary{Time: 1, Previous: 1})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, seg.WritePacket(record(int64(i+1)*1_000_000_123, 60+i)))
	}
	return seg
}

func readPackets(t *testing.T, r io.Reader) [][]byte {
	t.Helper()
	pr, err := pcapgo.NewReader(r)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, pr.LinkType())
	assert.Equal(t, uint32(pcapio.CanonicalSnapLen), pr.Snaplen())
	var out [][]byte
	for {
		data, _, err := pr.ReadPacketData()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, data)
	}
}

func TestNewTransport(t *testing.T) {
	for _, name := range []string{NullName, FileName} {
		tr, err := NewTransport(Config{Name: name})
		require.NoError(t, err)
		assert.Equal(t, name, tr.Name())
	}

	_, err := NewTransport(Config{Name: "s3"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewTransport(Config{Name: PipeName})
	assert.ErrorIs(t, err, core.ErrConfigInvalid, "pipe without a write command")

	_, err = NewTransport(Config{Name: FileName, Compression: "lz4"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestNullSegment(t *testing.T) {
	seg := writeSegment(t, NullTransport{}, "/nonexistent/x.pcap", 3)
	require.NoError(t, seg.Close())
	r := seg.Report()
	assert.Equal(t, uint64(3), r.Packets)
	assert.Equal(t, uint64(24+3*16+60+61+62), r.Bytes)
	assert.NoError(t, r.Err)
}

func TestFileSegmentPublishes(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out_1.pcap")
	tr, err := NewFileTransport(Config{})
	require.NoError(t, err)

	seg := writeSegment(t, tr, final, 2)
	_, err = os.Stat(final + PendingSuffix)
	require.NoError(t, err, "pending file exists while open")
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, seg.Close())
	_, err = os.Stat(final + PendingSuffix)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, pcapio.CanonicalHeader(), data[:pcapio.FileHeaderLen])
	assert.Equal(t, uint64(len(data)), seg.Report().Bytes)

	pkts := readPackets(t, bytes.NewReader(data))
	require.Len(t, pkts, 2)
	assert.Len(t, pkts[0], 60)
	assert.Len(t, pkts[1], 61)

	r := seg.Report()
	assert.Equal(t, int64(1_000_000_123), r.FirstTS)
	assert.Equal(t, int64(2_000_000_246), r.LastTS)
	assert.False(t, r.Closed.IsZero())
}

func TestSegmentCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap")
	tr, err := NewFileTransport(Config{})
	require.NoError(t, err)

	seg := writeSegment(t, tr, final, 1)
	require.NoError(t, seg.Close())
	first := seg.Report()
	assert.NoError(t, seg.Close())
	assert.Equal(t, first, seg.Report())
	assert.ErrorIs(t, seg.WritePacket(record(5, 60)), core.ErrSegmentClosed)
}

func TestHeaderOnlySegment(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "empty.pcap")
	tr, err := NewFileTransport(Config{})
	require.NoError(t, err)

	seg, err := Open(context.Background(), tr, final, split.Boundary{})
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, pcapio.CanonicalHeader(), data)
}

func TestFileMakeDirs(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "a", "b", "x.pcap")

	tr, err := NewFileTransport(Config{})
	require.NoError(t, err)
	_, err = Open(context.Background(), tr, final, split.Boundary{})
	assert.Error(t, err)

	tr, err = NewFileTransport(Config{MakeDirs: true})
	require.NoError(t, err)
	seg := writeSegment(t, tr, final, 1)
	require.NoError(t, seg.Close())
	assert.FileExists(t, final)
}

func TestFileSnappy(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap.sz")
	tr, err := NewFileTransport(Config{Compression: CompressionSnappy})
	require.NoError(t, err)

	seg := writeSegment(t, tr, final, 4)
	require.NoError(t, seg.Close())

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readPackets(t, snappy.NewReader(f)), 4)
}

func TestFileGzip(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap.gz")
	tr, err := NewFileTransport(Config{Compression: CompressionGzip})
	require.NoError(t, err)

	seg := writeSegment(t, tr, final, 4)
	require.NoError(t, seg.Close())

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	assert.Len(t, readPackets(t, zr), 4)
}

func lookPath(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			t.Skipf("%s not available: %v", n, err)
		}
	}
}

func TestFileFilterCommand(t *testing.T) {
	lookPath(t, "cat")
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap")
	tr, err := NewFileTransport(Config{Filter: []string{"cat"}})
	require.NoError(t, err)
	assert.Equal(t, "cat > "+final+".pending", tr.Describe(final))

	seg := writeSegment(t, tr, final, 3)
	require.NoError(t, seg.Close())

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readPackets(t, f), 3)
}

func TestFileFilterFailure(t *testing.T) {
	lookPath(t, "false")
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap")
	tr, err := NewFileTransport(Config{Filter: []string{"false"}})
	require.NoError(t, err)

	seg, err := Open(context.Background(), tr, final, split.Boundary{})
	require.NoError(t, err)
	assert.Error(t, seg.Close())
	assert.Error(t, seg.Report().Err)
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err), "failed segment is not published")
}

func TestPipeTransport(t *testing.T) {
	lookPath(t, "dd", "mv")
	dir := t.TempDir()
	final := filepath.Join(dir, "remote.pcap")
	tr, err := NewPipeTransport(Config{
		Write: []string{"dd", "of={pending}", "status=none"},
		Move:  []string{"mv", "{pending}", "{final}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dd of="+final+".pending status=none", tr.Describe(final))

	seg := writeSegment(t, tr, final, 5)
	require.NoError(t, seg.Close())

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readPackets(t, f), 5)
	_, err = os.Stat(final + PendingSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestPipeTransportWithFilter(t *testing.T) {
	lookPath(t, "cat", "dd")
	dir := t.TempDir()
	final := filepath.Join(dir, "remote.pcap")
	tr, err := NewPipeTransport(Config{
		Filter: []string{"cat"},
		Write:  []string{"dd", "of={final}", "status=none"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cat | dd of="+final+" status=none", tr.Describe(final))

	seg := writeSegment(t, tr, final, 2)
	require.NoError(t, seg.Close())

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, readPackets(t, f), 2)
}

type brokenTransport struct {
	budget    int
	aborted   bool
	createErr error
}

func (b *brokenTransport) Name() string             { return "broken" }
func (b *brokenTransport) Describe(f string) string { return f }
func (b *brokenTransport) Create(context.Context, string, string) (Output, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &brokenOutput{t: b}, nil
}

type brokenOutput struct{ t *brokenTransport }

func (o *brokenOutput) Write(p []byte) (int, error) {
	if len(p) > o.t.budget {
		return 0, errors.New("disk full")
	}
	o.t.budget -= len(p)
	return len(p), nil
}
func (o *brokenOutput) Commit() error { return nil }
func (o *brokenOutput) Abort() error  { o.t.aborted = true; return nil }

func TestSegmentWriteFailureDrops(t *testing.T) {
	tr := &brokenTransport{budget: 100}
	seg, err := Open(context.Background(), tr, "x", split.Boundary{})
	require.NoError(t, err)

	// fill the write buffer until it spills into the output
	big := record(1, core.MaxCaptureLength)
	written := 0
	for ; written < 16; written++ {
		if err := seg.WritePacket(big); err != nil {
			break
		}
	}
	require.True(t, seg.Failed())
	assert.Error(t, seg.WritePacket(record(2, 60)))
	assert.Error(t, seg.WritePacket(record(3, 60)))

	err = seg.Close()
	assert.Error(t, err)
	assert.True(t, tr.aborted)
	r := seg.Report()
	assert.Equal(t, uint64(3), r.Dropped)
	assert.Equal(t, uint64(written), r.Packets)
	assert.Error(t, r.Err)
}

func TestSegmentFlushFailure(t *testing.T) {
	tr := &brokenTransport{budget: 10}
	seg, err := Open(context.Background(), tr, "x", split.Boundary{})
	require.NoError(t, err)
	require.NoError(t, seg.WritePacket(record(1, 60)), "buffered")
	assert.Error(t, seg.Close())
	assert.True(t, tr.aborted)
}

func TestOpenFailure(t *testing.T) {
	tr := &brokenTransport{createErr: errors.New("no such bucket")}
	_, err := Open(context.Background(), tr, "x", split.Boundary{})
	assert.ErrorContains(t, err, "no such bucket")
}
