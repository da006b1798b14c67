package hook

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapsplit/internal/sink"
	"firestige.xyz/pcapsplit/internal/split"
)

func report(final string) sink.Report {
	opened := time.Unix(1_700_000_000, 0)
	return sink.Report{
		Transport: sink.FileName,
		Final:     final,
		Pending:   final + sink.PendingSuffix,
		Bytes:     1024,
		Packets:   7,
		Opened:    opened,
		Closed:    opened.Add(2 * time.Second),
		FirstTS:   60_000_000_000,
		LastTS:    61_500_000_000,
		Boundary:  split.Boundary{Time: 60_000_000_000, Previous: 0, End: 120_000_000_000},
	}
}

func TestCloseArgs(t *testing.T) {
	assert.Equal(t, []string{
		"/cap/x.pcap", "1024", "7", "2000000000", "1500000000", "60000000000", "0",
	}, CloseArgs(report("/cap/x.pcap")))
}

func TestExecHook(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	script := `echo "$@" >> "` + out + `"`

	h := NewExec(ExecConfig{
		Open:  []string{"sh", "-c", script, "hook", "opened"},
		Close: []string{"sh", "-c", script, "hook", "closed"},
	})
	r := report("/cap/x.pcap")
	require.NoError(t, h.SegmentOpened(context.Background(), r))
	require.NoError(t, h.SegmentClosed(context.Background(), r))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "opened /cap/x.pcap", lines[0])
	assert.Equal(t, "closed /cap/x.pcap 1024 7 2000000000 1500000000 60000000000 0", lines[1])
}

func TestExecHookFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	h := NewExec(ExecConfig{Close: []string{"false"}})
	assert.NoError(t, h.SegmentOpened(context.Background(), report("x")))
	assert.Error(t, h.SegmentClosed(context.Background(), report("x")))
}

func TestChownHook(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "x.pcap")
	require.NoError(t, os.WriteFile(final, []byte("x"), 0o644))

	h := NewChown(ChownConfig{Enabled: true, UID: os.Getuid(), GID: os.Getgid()})
	assert.NoError(t, h.SegmentClosed(context.Background(), report(final)))

	missing := report(filepath.Join(dir, "missing.pcap"))
	assert.Error(t, h.SegmentClosed(context.Background(), missing))

	missing.Err = errors.New("write failed")
	assert.NoError(t, h.SegmentClosed(context.Background(), missing), "failed segments are skipped")

	remote := report(filepath.Join(dir, "missing.pcap"))
	remote.Transport = sink.PipeName
	assert.NoError(t, h.SegmentClosed(context.Background(), remote), "only local segments")
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, 0)

	r := report("/cap/x.pcap")
	r.Dropped = 3
	r.Err = errors.New("disk full")
	require.NoError(t, k.SegmentOpened(context.Background(), r))
	assert.Empty(t, w.msgs)
	require.NoError(t, k.SegmentClosed(context.Background(), r))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "/cap/x.pcap", string(msg.Key))
	var ev SegmentEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	_, err := ulid.Parse(ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1024), ev.Bytes)
	assert.Equal(t, uint64(7), ev.Packets)
	assert.Equal(t, uint64(3), ev.Dropped)
	assert.Equal(t, int64(60_000_000_000), ev.WindowTime)
	assert.Equal(t, "disk full", ev.Error)
	assert.Equal(t, sink.FileName, ev.Transport)

	require.NoError(t, Chain{k}.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaValidation(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Enabled: true, Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "zstd-ish"})
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "snappy"})
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

type countingHook struct {
	name           string
	opened, closed int
	err            error
}

func (c *countingHook) Name() string { return c.name }
func (c *countingHook) SegmentOpened(context.Context, sink.Report) error {
	c.opened++
	return c.err
}
func (c *countingHook) SegmentClosed(context.Context, sink.Report) error {
	c.closed++
	return c.err
}

func TestChainRunsEveryHook(t *testing.T) {
	bad := &countingHook{name: "bad", err: errors.New("boom")}
	good := &countingHook{name: "good"}
	c := Chain{bad, good}

	assert.Error(t, c.SegmentOpened(context.Background(), report("x")))
	assert.Error(t, c.SegmentClosed(context.Background(), report("x")))
	assert.Equal(t, 1, good.opened)
	assert.Equal(t, 1, good.closed)
	assert.NoError(t, c.Close())
}

func TestNewChain(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Empty(t, c)

	c, err = New(Config{
		Exec:  ExecConfig{Close: []string{"true"}},
		Chown: ChownConfig{Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, c, 2)
	assert.Equal(t, "exec", c[0].Name())
	assert.Equal(t, "chown", c[1].Name())
}
