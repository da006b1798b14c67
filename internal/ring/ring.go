// Package ring implements a single-producer single-consumer packet ring in a
// shared memory file, so a capture process can hand pre-decoded records to
// the splitter without a byte stream in between.
//
// Layout: a 64-byte control block followed by a power-of-two data area.
// Both cursors grow monotonically; a record never straddles the end of the
// data area, the producer writes a wrap marker instead.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"firestige.xyz/pcapsplit/internal/core"
)

const (
	magic   uint32 = 0x474e4952 // "RING"
	version uint32 = 1

	controlLen   = 64
	offMagic     = 0
	offVersion   = 4
	offCapacity  = 8
	offHead      = 16
	offTail      = 24
	offClosed    = 32
	recHeaderLen = 24
	wrapMarker   = 0xFFFFFFFF

	// MinCapacity keeps room for at least two maximum sized records.
	MinCapacity = 1 << 18
)

var (
	// ErrEmpty means the producer has not published anything new yet.
	ErrEmpty = errors.New("ring: empty")
	// ErrFull means the consumer has not released enough space.
	ErrFull = errors.New("ring: full")
	// ErrClosed means the producer closed the ring and every record was consumed.
	ErrClosed = core.ErrRingClosed
)

type region struct {
	file     *os.File
	mem      []byte
	data     []byte
	capacity uint64
}

func (r *region) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r *region) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *region) unmap() error {
	var firstErr error
	if r.mem != nil {
		firstErr = unix.Munmap(r.mem)
		r.mem, r.data = nil, nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.file = nil
	}
	return firstErr
}

func mapFile(f *os.File, size int) (*region, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &region{file: f, mem: mem, data: mem[controlLen:]}, nil
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// Writer is the producer side of the ring.
type Writer struct {
	region
	head uint64
}

// Create makes a new ring file at path with a data area of capacity bytes.
func Create(path string, capacity uint64) (*Writer, error) {
	if capacity < MinCapacity || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: ring capacity %d must be a power of two >= %d",
			core.ErrConfigInvalid, capacity, MinCapacity)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	size := controlLen + int(capacity)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	r, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.capacity = capacity
	binary.LittleEndian.PutUint64(r.mem[offCapacity:], capacity)
	binary.LittleEndian.PutUint32(r.mem[offVersion:], version)
	atomic.StoreUint32(r.u32(offMagic), magic)
	return &Writer{region: *r}, nil
}

// Write publishes rec without blocking. It returns ErrFull if the consumer
// has fallen behind.
func (w *Writer) Write(rec *core.PacketRecord) error {
	if w.mem == nil {
		return ErrClosed
	}
	if rec.CaptureLength > core.MaxCaptureLength || int(rec.CaptureLength) > len(rec.Data) {
		return fmt.Errorf("%w: capture length %d", core.ErrCorrupt, rec.CaptureLength)
	}
	need := align8(recHeaderLen + uint64(rec.CaptureLength))
	pos := w.head & (w.capacity - 1)
	contiguous := w.capacity - pos
	total := need
	if contiguous < need {
		total += contiguous
	}
	tail := atomic.LoadUint64(w.u64(offTail))
	if w.head+total-tail > w.capacity {
		return ErrFull
	}
	if contiguous < need {
		binary.LittleEndian.PutUint32(w.data[pos:], wrapMarker)
		w.head += contiguous
		pos = 0
	}

	b := w.data[pos : pos+need]
	binary.LittleEndian.PutUint32(b[0:4], uint32(need))
	binary.LittleEndian.PutUint32(b[4:8], rec.CaptureLength)
	binary.LittleEndian.PutUint64(b[8:16], uint64(rec.Timestamp))
	binary.LittleEndian.PutUint32(b[16:20], rec.WireLength)
	b[20] = rec.Port
	b[21] = rec.Flags
	copy(b[recHeaderLen:], rec.Data[:rec.CaptureLength])

	w.head += need
	atomic.StoreUint64(w.u64(offHead), w.head)
	return nil
}

// Close marks the ring closed so the consumer drains and stops, then unmaps it.
func (w *Writer) Close() error {
	if w.mem == nil {
		return nil
	}
	atomic.StoreUint32(w.u32(offClosed), 1)
	return w.unmap()
}

// Reader is the consumer side of the ring.
type Reader struct {
	region
	tail    uint64
	pending uint64 // bytes of the last returned record, released on the next Poll
	rec     core.PacketRecord
}

// OpenReader maps an existing ring file.
func OpenReader(path string) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < controlLen+MinCapacity {
		f.Close()
		return nil, fmt.Errorf("%w: ring file %s too small", core.ErrCorrupt, path)
	}
	r, err := mapFile(f, int(st.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}
	if atomic.LoadUint32(r.u32(offMagic)) != magic ||
		binary.LittleEndian.Uint32(r.mem[offVersion:]) != version {
		r.unmap()
		return nil, fmt.Errorf("%w: %s is not a ring file", core.ErrUnknownFormat, path)
	}
	r.capacity = binary.LittleEndian.Uint64(r.mem[offCapacity:])
	if r.capacity != uint64(st.Size())-controlLen {
		r.unmap()
		return nil, fmt.Errorf("%w: ring capacity mismatch", core.ErrCorrupt)
	}
	rd := &Reader{region: *r}
	rd.tail = atomic.LoadUint64(rd.u64(offTail))
	return rd, nil
}

// Poll returns the next record without blocking. The record's Data points
// into shared memory and stays valid until the next Poll.
// It returns ErrEmpty when nothing is available yet and ErrClosed once the
// producer has closed the ring and everything was consumed.
func (r *Reader) Poll() (*core.PacketRecord, error) {
	if r.mem == nil {
		return nil, ErrClosed
	}
	if r.pending != 0 {
		r.tail += r.pending
		r.pending = 0
		atomic.StoreUint64(r.u64(offTail), r.tail)
	}

	for {
		head := atomic.LoadUint64(r.u64(offHead))
		if r.tail == head {
			if atomic.LoadUint32(r.u32(offClosed)) == 0 {
				return nil, ErrEmpty
			}
			// head is published before closed, so a second look is final
			if atomic.LoadUint64(r.u64(offHead)) == r.tail {
				return nil, ErrClosed
			}
			continue
		}

		pos := r.tail & (r.capacity - 1)
		size := binary.LittleEndian.Uint32(r.data[pos:])
		if size == wrapMarker {
			r.tail += r.capacity - pos
			atomic.StoreUint64(r.u64(offTail), r.tail)
			continue
		}
		if size < recHeaderLen || uint64(size) > r.capacity-pos || r.tail+uint64(size) > head {
			return nil, fmt.Errorf("%w: ring record size %d at %d", core.ErrCorrupt, size, r.tail)
		}

		b := r.data[pos : pos+uint64(size)]
		caplen := binary.LittleEndian.Uint32(b[4:8])
		if uint64(caplen)+recHeaderLen > uint64(size) {
			return nil, fmt.Errorf("%w: ring record capture length %d", core.ErrCorrupt, caplen)
		}
		r.rec = core.PacketRecord{
			Timestamp:     int64(binary.LittleEndian.Uint64(b[8:16])),
			CaptureLength: caplen,
			WireLength:    binary.LittleEndian.Uint32(b[16:20]),
			Port:          b[20],
			Flags:         b[21],
			Data:          b[recHeaderLen : recHeaderLen+caplen],
		}
		r.pending = uint64(size)
		return &r.rec, nil
	}
}

// Close releases the mapping. Records returned earlier become invalid.
func (r *Reader) Close() error {
	return r.unmap()
}
