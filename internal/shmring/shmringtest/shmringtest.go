// Package shmringtest provides an in-process stand-in for shmring.Ring,
// so the poller and its callers can be exercised without a real mmap'd
// /dev/shm segment (unavailable in sandboxes and CI, and unnecessary for
// anything except the real producer/consumer pair).
//
// It is built on an overwrite-on-full ring primitive
// (github.com/hedzr/go-ringbuf/v2/mpmc) rather than a plain slice, so the
// fake exhibits the same "drop oldest, count the damage" behavior a real
// shared-memory ring has under overload.
package shmringtest

import (
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Source is a test double satisfying the same shape as *shmring.Ring[T]:
// Drain(dst) (count, missed int). Produce simulates the out-of-scope
// producer process appending one record.
type Source[T any] struct {
	mu      sync.Mutex
	buffer  mpmc.RichOverlappedRingBuffer[T]
	missed  uint32
	emitted uint64
}

// NewSource creates a fake ring of the given slot capacity.
func NewSource[T any](capacity uint32) *Source[T] {
	return &Source[T]{
		buffer: mpmc.NewOverlappedRingBuffer[T](capacity),
	}
}

// Produce appends one record as the producer would. If the ring is full the
// oldest unread record is overwritten, matching shmring's lossy contract.
func (s *Source[T]) Produce(rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	overwrites, err := s.buffer.EnqueueM(rec)
	if err != nil {
		// The underlying ring only errors on misuse (e.g. zero capacity),
		// which is a test setup bug, not a runtime condition to recover from.
		panic(err)
	}
	s.missed += overwrites
	s.emitted++
}

// Drain implements the same contract as shmring.Ring[T].Drain.
func (s *Source[T]) Drain(dst []T) (count, missed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for count < len(dst) && !s.buffer.IsEmpty() {
		rec, err := s.buffer.Dequeue()
		if err != nil {
			break
		}
		dst[count] = rec
		count++
	}

	missed = int(s.missed)
	s.missed = 0
	return count, missed
}
