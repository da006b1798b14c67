package ring

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapsplit/internal/core"
)

func newRing(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, MinCapacity)
	require.NoError(t, err)
	r, err := OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return w, r
}

func record(ts int64, size int, fill byte) *core.PacketRecord {
	return &core.PacketRecord{
		Timestamp:     ts,
		CaptureLength: uint32(size),
		WireLength:    uint32(size),
		Data:          bytes.Repeat([]byte{fill}, size),
	}
}

func TestCreateRejectsBadCapacity(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "ring"), MinCapacity+1)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestPollEmptyThenRecord(t *testing.T) {
	w, r := newRing(t)

	_, err := r.Poll()
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, w.Write(record(42, 100, 0x11)))
	rec, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.Timestamp)
	assert.Equal(t, uint32(100), rec.CaptureLength)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 100), rec.Data)

	_, err = r.Poll()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestWrapAround(t *testing.T) {
	w, r := newRing(t)

	// enough traffic to cross the end of the data area several times
	for i := 0; i < 5000; i++ {
		require.NoError(t, w.Write(record(int64(i), 1000+i%7, byte(i))), "write %d", i)
		rec, err := r.Poll()
		require.NoError(t, err, "poll %d", i)
		require.Equal(t, int64(i), rec.Timestamp)
		require.Equal(t, 1000+i%7, len(rec.Data))
		require.Equal(t, byte(i), rec.Data[0])
	}
}

func TestFullRingRejectsWrites(t *testing.T) {
	w, r := newRing(t)

	n := 0
	for {
		err := w.Write(record(int64(n), 4000, 1))
		if err != nil {
			assert.ErrorIs(t, err, ErrFull)
			break
		}
		n++
	}
	assert.Greater(t, n, 0)

	consumed := 0
	for {
		_, err := r.Poll()
		if err != nil {
			assert.ErrorIs(t, err, ErrEmpty)
			break
		}
		consumed++
	}
	assert.Equal(t, n, consumed)
	assert.NoError(t, w.Write(record(int64(n), 4000, 1)))
}

func TestClosedAfterDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, MinCapacity)
	require.NoError(t, err)
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, w.Write(record(1, 64, 0)))
	require.NoError(t, w.Close())

	rec, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Timestamp)

	_, err = r.Poll()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenReaderRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, MinCapacity)
	require.NoError(t, err)
	// clobber the magic through the producer's mapping
	w.mem[0] = 0
	defer w.Close()

	_, err = OpenReader(path)
	assert.ErrorIs(t, err, core.ErrUnknownFormat)
}
