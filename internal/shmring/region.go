package shmring

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NumEntries is the fixed slot capacity of every ring in the region. It
// mirrors the producer's NUM_ENTRIES constant; both sides must agree on it
// since neither side negotiates layout at runtime.
const NumEntries = 8192

// headerSize reserves one cache line at the front of each ring for the
// producer's atomic write sequence, avoiding false sharing with the first
// data slot.
const headerSize = 64

// Ring is the reader side of one single-producer/single-consumer shared-memory
// ring buffer. The producer increments the write sequence (atomically, from
// its own process) once per record and writes the record into
// slot[seq % len(slots)] before doing so; Ring.Drain never writes, only
// reads.
type Ring[T any] struct {
	seq    *uint64
	slots  []T
	cursor uint64
}

// Drain copies any new records into dst (at most len(dst), and never more
// than NumEntries), returning how many were copied and how many were
// overwritten by the producer before this call could observe them.
//
// A non-zero missed is not an error: the producer is explicitly permitted to
// race ahead of the consumer and overwrite unread slots under overload.
func (r *Ring[T]) Drain(dst []T) (count, missed int) {
	seq := atomic.LoadUint64(r.seq)
	total := seq - r.cursor
	if total == 0 {
		return 0, 0
	}

	capN := uint64(len(r.slots))
	if total > capN {
		missed = int(total - capN)
		total = capN
	}

	count = len(dst)
	if uint64(count) > total {
		count = int(total)
	}

	start := seq - total
	for i := 0; i < count; i++ {
		dst[i] = r.slots[(start+uint64(i))%capN]
	}

	// Only advance the cursor past what we actually copied: if dst was
	// smaller than the backlog, the remainder is picked up on the next call
	// instead of being silently dropped.
	r.cursor = start + uint64(count)
	return count, missed
}

func newRing[T any](buf []byte) *Ring[T] {
	seq := (*uint64)(unsafe.Pointer(&buf[0]))

	var zero T
	slotSize := int(unsafe.Sizeof(zero))
	capEntries := (len(buf) - headerSize) / slotSize

	slots := unsafe.Slice((*T)(unsafe.Pointer(&buf[headerSize])), capEntries)
	return &Ring[T]{seq: seq, slots: slots}
}

func ringSpan[T any](entries int) int {
	var zero T
	return headerSize + entries*int(unsafe.Sizeof(zero))
}

// Region is the process-global shared-memory segment containing the three
// rings: frame_data, zone_data and plot_data.
//
// A process may hold at most one Region. CreateRegion enforces this with
// O_EXCL at the filesystem level: a second instance of the server refuses to
// start rather than silently sharing (and corrupting the read cursors of)
// the first instance's region.
type Region struct {
	Frames *Ring[FrameData]
	Zones  *Ring[ZoneData]
	Plots  *Ring[PlotData]

	path string
	mem  []byte
}

// ErrAlreadyRunning is returned by CreateRegion when the shared-memory
// segment already exists, indicating another server instance owns it.
var ErrAlreadyRunning = fmt.Errorf("shmring: region already exists, another instance is likely running")

// CreateRegion creates (and exclusively owns) the shared-memory region for
// name, sized to hold NumEntries slots per ring. dir is typically
// "/dev/shm"; it is only ever written to by this call and Close.
func CreateRegion(dir, name string) (*Region, error) {
	frameSpan := ringSpan[FrameData](NumEntries)
	zoneSpan := ringSpan[ZoneData](NumEntries)
	plotSpan := ringSpan[PlotData](NumEntries)
	total := frameSpan + zoneSpan + plotSpan

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("shmring: failed to create region file %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Ftruncate(int(f.Fd()), int64(total)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shmring: failed to size region file: %w", err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shmring: failed to map region: %w", err)
	}

	return &Region{
		Frames: newRing[FrameData](mem[:frameSpan]),
		Zones:  newRing[ZoneData](mem[frameSpan : frameSpan+zoneSpan]),
		Plots:  newRing[PlotData](mem[frameSpan+zoneSpan:]),
		path:   path,
		mem:    mem,
	}, nil
}

// Close unmaps and removes the backing region file, releasing exclusive
// ownership so a future process can create it again.
func (r *Region) Close() error {
	if err := unix.Munmap(r.mem); err != nil {
		return fmt.Errorf("shmring: failed to unmap region: %w", err)
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shmring: failed to remove region file: %w", err)
	}
	return nil
}
