// Package tics implements the Time-Indexed Chunked Store: an append-only,
// monotonically time-keyed in-memory store that spills cold chunks to disk
// and transparently reloads them on query.
//
// A Store[T] is built once per stream (frames, zones, plots). Exactly one
// writer goroutine may call Push and UnloadOldChunks; any number of reader
// goroutines may call Query/QueryCount/QueryPrevious/GetStats through an
// Accessor obtained from NewAccessor.
package tics

import (
	"sync"
	"sync/atomic"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/sirupsen/logrus"
)

// SwapThreshold is the number of entries the current (unsealed) chunk holds
// before it is sealed and a fresh one started.
const SwapThreshold = 32768

// UnloadThreshold is how long a sealed chunk may sit idle (unqueried) before
// it becomes eligible for eviction to disk.
const UnloadThreshold = 60 * time.Second

// TimeData pairs a monotonically increasing time with its payload.
type TimeData[T any] struct {
	Time float64
	Data T
}

// Terminator lets an element type decide, mid-scan, whether a forward query
// walk can stop early because no later element could still intersect the
// query window. Zones need this (a span's extent can start before the
// window and still be alive); plots do not (a trivial t > max terminator is
// still expressed through this interface, see LiteZoneData.ShouldStopQuery
// and PlotSample.ShouldStopQuery in internal/telemetry).
type Terminator interface {
	ShouldStopQuery(t, queryMax float64) bool
}

// Codec tells a Store how to turn one element into bytes for disk spill and
// back. Kept as plain functions (rather than requiring T to implement
// encoding.BinaryMarshaler/Unmarshaler) so value types with no methods of
// their own can still be stored.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

type chunk[T any] struct {
	min, max   float64
	lastAccess atomic.Int64 // seconds since the store's clock epoch
	data       []TimeData[T]
	loaded     bool
}

type sharedState[T any] struct {
	oldChunks    []*chunk[T]
	currentChunk []TimeData[T]
	max          float64
}

// Store is the writer-facing handle for one time-keyed stream.
type Store[T Terminator] struct {
	name     string
	savePath string
	codec    Codec[T]
	logger   *logrus.Logger
	now      func() time.Time
	epoch    time.Time

	mu sync.RWMutex // guards sharedState
	st sharedState[T]

	// loadedChunks tracks which old chunks currently hold their data in
	// memory, in the order they were sealed or reloaded (both append at the
	// end). UnloadOldChunks checks every entry and deletes evicted ones by
	// key, which an ordered map does in O(1).
	loadedMu     sync.Mutex // guards loadedChunks
	loadedChunks *orderedmap.OrderedMap[int, struct{}]

	unloadScratch []int // writer-owned scratch space for UnloadOldChunks
}

// Option configures a Store at construction.
type Option[T Terminator] func(*Store[T])

// WithClock overrides the store's time source; used by tests to simulate
// the passage of UnloadThreshold without sleeping.
func WithClock[T Terminator](now func() time.Time) Option[T] {
	return func(s *Store[T]) { s.now = now }
}

// New creates a Store named name, spilling evicted chunks under savePath.
// savePath must be a directory owned exclusively by this Store; the caller
// is responsible for creating and cleaning it (see the startup directory
// wipe in cmd/lensd's runServe).
func New[T Terminator](name, savePath string, codec Codec[T], logger *logrus.Logger, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		name:         name,
		savePath:     savePath,
		codec:        codec,
		logger:       logger,
		now:          time.Now,
		loadedChunks: orderedmap.New[int, struct{}](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.epoch = s.now()
	return s
}

func (s *Store[T]) elapsedSeconds() int64 {
	return int64(s.now().Sub(s.epoch) / time.Second)
}

// NewAccessor returns a cheaply-clonable read handle onto s. Distinct from
// Store so a query-only caller (the accessor package) can't reach Push or
// UnloadOldChunks.
func (s *Store[T]) NewAccessor() *Accessor[T] {
	return &Accessor[T]{s: s}
}

// Accessor is the read side of a Store, safe for concurrent use by any
// number of goroutines and safe to copy.
type Accessor[T Terminator] struct {
	s *Store[T]
}

func (a *Accessor[T]) Query(min float64, max *float64, cb func(entryID uint64, td *TimeData[T])) {
	a.s.Query(min, max, cb)
}

func (a *Accessor[T]) QueryCount(t float64, count int, cb func(*TimeData[T])) {
	a.s.QueryCount(t, count, cb)
}

func (a *Accessor[T]) QueryPrevious(t float64, cb func(*TimeData[T])) {
	a.s.QueryPrevious(t, cb)
}

func (a *Accessor[T]) GetMaxTime() float64 {
	return a.s.GetMaxTime()
}

func (a *Accessor[T]) GetStats() (loaded, total int) {
	return a.s.GetStats()
}
