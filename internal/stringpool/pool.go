// Package stringpool implements the write-once string interning pool shared
// between the poller (sole writer) and any number of query goroutines
// (readers).
//
// Strings are copied into fixed-size slabs that are never reallocated or
// freed for the life of the process (see (*Pool).Insert); once a Key is
// bound, its bytes never change. That stability is what lets Get return a
// zero-copy view into the slab without any read lock held beyond the map
// lookup itself.
package stringpool

import (
	"fmt"
	"unsafe"

	"github.com/cornelk/hashmap"
)

// poolSlabSize is the fixed size of each backing slab. A single string must
// fit entirely within one slab; Insert rejects strings of this length or
// longer.
const poolSlabSize = 8192

// sentinel is substituted for any key that was never interned, or whose
// insert was rejected (over-long string).
const sentinel = "????"

// Kind discriminates the two classes of interned strings the poller
// produces.
type Kind uint8

const (
	StaticString Kind = iota
	ThreadName
)

// Key identifies one interned string: a producer-chosen numeric key, scoped
// by Kind (the same numeric key may independently name a static string and
// a thread name).
type Key struct {
	Kind Kind
	ID   uint64
}

type entry struct {
	data []byte
}

// Pool is the write side: only the poller goroutine may call Insert.
type Pool struct {
	statics *hashmap.Map[uint64, entry]
	threads *hashmap.Map[uint64, entry]

	// Slab bookkeeping is writer-only state; no reader ever touches it.
	slabs  [][]byte
	curPos int
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		statics: hashmap.New[uint64, entry](),
		threads: hashmap.New[uint64, entry](),
	}
}

func (p *Pool) mapFor(kind Kind) *hashmap.Map[uint64, entry] {
	if kind == ThreadName {
		return p.threads
	}
	return p.statics
}

// Insert binds s under k. A no-op if k is already bound. Returns an error if
// s is too long to fit in a single slab; the caller (poller) logs and
// continues, the key then permanently resolving to the "????" sentinel.
func (p *Pool) Insert(k Key, s string) error {
	if len(s) >= poolSlabSize {
		return fmt.Errorf("stringpool: string of %d bytes exceeds slab size %d", len(s), poolSlabSize)
	}

	m := p.mapFor(k.Kind)
	if _, ok := m.Get(k.ID); ok {
		return nil
	}

	if len(p.slabs) == 0 || poolSlabSize-p.curPos < len(s) {
		p.slabs = append(p.slabs, make([]byte, poolSlabSize))
		p.curPos = 0
	}

	slab := p.slabs[len(p.slabs)-1]
	copy(slab[p.curPos:], s)
	data := slab[p.curPos : p.curPos+len(s) : p.curPos+len(s)]
	p.curPos += len(s)

	m.Insert(k.ID, entry{data: data})
	return nil
}

// SlabCount reports how many fixed-size slabs have been allocated so far.
// Diagnostic only; writer-side.
func (p *Pool) SlabCount() int {
	return len(p.slabs)
}

// NewAccessor returns a cheaply-clonable read handle.
func (p *Pool) NewAccessor() *Accessor {
	return &Accessor{statics: p.statics, threads: p.threads}
}

// Accessor is the read side, safe for concurrent use by any number of
// goroutines and safe to copy.
type Accessor struct {
	statics *hashmap.Map[uint64, entry]
	threads *hashmap.Map[uint64, entry]
}

// Get resolves k to its interned string. ok is false if k was never
// interned (or its insert was rejected for being over-long).
func (a *Accessor) Get(k Key) (string, bool) {
	m := a.statics
	if k.Kind == ThreadName {
		m = a.threads
	}

	e, ok := m.Get(k.ID)
	if !ok {
		return "", false
	}

	// Zero-copy: data's backing slab is never mutated or freed once an
	// entry is published, so this view stays valid for the life of the
	// process.
	return unsafe.String(unsafe.SliceData(e.data), len(e.data)), true
}

// GetOrSentinel is Get with the "????" fallback the query path uses for
// unresolved or rejected keys.
func (a *Accessor) GetOrSentinel(k Key) string {
	if s, ok := a.Get(k); ok {
		return s
	}
	return sentinel
}
