package tics

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecord is a minimal Terminator used by tests that don't care about
// the zone-specific "alive span" semantics: it stops as soon as an
// element's time exceeds the query window, matching
// telemetry.PlotSample.ShouldStopQuery.
type testRecord struct {
	val int
}

func (r testRecord) ShouldStopQuery(t, queryMax float64) bool {
	return t > queryMax
}

func testRecordCodec() Codec[testRecord] {
	return Codec[testRecord]{
		Encode: func(r testRecord) ([]byte, error) {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(r.val))
			return buf, nil
		},
		Decode: func(b []byte) (testRecord, error) {
			if len(b) != 4 {
				return testRecord{}, fmt.Errorf("bad record length %d", len(b))
			}
			return testRecord{val: int(binary.LittleEndian.Uint32(b))}, nil
		},
	}
}

// testZone mimics telemetry.LiteZoneData closely enough to exercise the
// depth==0 top-level-span terminator.
type testZone struct {
	depth        int
	durationNano int64
}

func (z testZone) ShouldStopQuery(t, queryMax float64) bool {
	return z.depth == 0 && t-float64(z.durationNano)*1e-9 > queryMax
}

func testZoneCodec() Codec[testZone] {
	return Codec[testZone]{
		Encode: func(z testZone) ([]byte, error) {
			buf := make([]byte, 12)
			binary.LittleEndian.PutUint32(buf, uint32(z.depth))
			binary.LittleEndian.PutUint64(buf[4:], uint64(z.durationNano))
			return buf, nil
		},
		Decode: func(b []byte) (testZone, error) {
			if len(b) != 12 {
				return testZone{}, fmt.Errorf("bad zone length %d", len(b))
			}
			return testZone{
				depth:        int(binary.LittleEndian.Uint32(b)),
				durationNano: int64(binary.LittleEndian.Uint64(b[4:])),
			}, nil
		},
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newTestStore(t *testing.T) *Store[testRecord] {
	t.Helper()
	return New[testRecord]("test", t.TempDir(), testRecordCodec(), testLogger())
}

func TestStore_SealingAt32768(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= SwapThreshold; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	require.Len(t, s.st.oldChunks, 1)
	assert.Equal(t, 1.0, s.st.oldChunks[0].min)
	assert.Equal(t, float64(SwapThreshold), s.st.oldChunks[0].max)
	assert.Empty(t, s.st.currentChunk)

	loaded, total := s.GetStats()
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, total)
}

func TestStore_RangeQuery(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 100; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	max := 20.0
	var got []float64
	s.Query(10.0, &max, func(_ uint64, td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})

	require.Len(t, got, 11)
	assert.Equal(t, 10.0, got[0])
	assert.Equal(t, 20.0, got[len(got)-1])
}

func TestStore_RelativeMinQuery(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 100; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	var got []float64
	s.Query(-5.0, nil, func(_ uint64, td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})

	// effMin = -5 + max(99) = 94, inclusive, so 94..99.
	require.Len(t, got, 6)
	assert.Equal(t, []float64{94, 95, 96, 97, 98, 99}, got)
}

func TestStore_SpillRoundTrip(t *testing.T) {
	epoch := time.Now()
	clock := epoch
	s := New[testRecord]("test", t.TempDir(), testRecordCodec(), testLogger(),
		WithClock[testRecord](func() time.Time { return clock }))

	for i := 1; i <= SwapThreshold; i++ {
		s.Push(float64(i), testRecord{val: i})
	}
	require.Len(t, s.st.oldChunks, 1)

	clock = epoch.Add(UnloadThreshold + time.Second)
	s.UnloadOldChunks()

	path := filepath.Join(s.savePath, "0")
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, s.st.oldChunks[0].loaded)

	var got []float64
	s.Query(-1e18, nil, func(_ uint64, td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})
	require.Len(t, got, SwapThreshold)
	assert.Equal(t, 1.0, got[0])
	assert.Equal(t, float64(SwapThreshold), got[len(got)-1])
	assert.True(t, s.st.oldChunks[0].loaded)
}

func TestStore_ZoneTerminator(t *testing.T) {
	s := New[testZone]("test", t.TempDir(), testZoneCodec(), testLogger())

	// A: end=10, duration=5s, depth=0 -> starts at t=5, alive through t=10.
	s.Push(10.0, testZone{depth: 0, durationNano: 5_000_000_000})
	// B: end=11, duration=0, depth=0 -> starts at t=11.
	s.Push(11.0, testZone{depth: 0, durationNano: 0})

	max := 9.0
	var got []float64
	s.Query(0.0, &max, func(_ uint64, td *TimeData[testZone]) {
		got = append(got, td.Time)
	})

	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0])
}

func TestStore_QueryCountReturnsAtMostN(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 50; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	var got []float64
	s.QueryCount(25.0, 10, func(td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})

	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func TestStore_QueryCountCapsAtAvailableElements(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	var got []float64
	s.QueryCount(2.0, 100, func(td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})

	assert.Len(t, got, 5)
}

func TestStore_QueryPreviousFindsPredecessor(t *testing.T) {
	s := newTestStore(t)
	for _, tm := range []float64{1, 3, 5, 7, 9} {
		s.Push(tm, testRecord{val: int(tm)})
	}

	var got *TimeData[testRecord]
	s.QueryPrevious(6.0, func(td *TimeData[testRecord]) { got = td })

	require.NotNil(t, got)
	assert.Equal(t, 5.0, got.Time)
}

func TestStore_QueryPreviousBeforeFirstElementYieldsNothing(t *testing.T) {
	s := newTestStore(t)
	s.Push(10.0, testRecord{val: 10})

	called := false
	s.QueryPrevious(1.0, func(td *TimeData[testRecord]) { called = true })
	assert.False(t, called)
}

func TestStore_QueryPreviousAcrossSealedChunkBoundary(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= SwapThreshold+5; i++ {
		s.Push(float64(i), testRecord{val: i})
	}
	require.Len(t, s.st.oldChunks, 1)

	var got *TimeData[testRecord]
	// SwapThreshold+1 is current_chunk[0]; its predecessor is the sealed
	// chunk's last element.
	s.QueryPrevious(float64(SwapThreshold+1), func(td *TimeData[testRecord]) { got = td })

	require.NotNil(t, got)
	assert.Equal(t, float64(SwapThreshold), got.Time)
}

func TestStore_MonotonicityDropsBackwardsPush(t *testing.T) {
	s := newTestStore(t)
	s.Push(10.0, testRecord{val: 10})
	s.Push(5.0, testRecord{val: 5})

	var got []float64
	s.Query(-1e18, nil, func(_ uint64, td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})

	assert.Equal(t, []float64{10}, got)
	assert.Equal(t, 10.0, s.GetMaxTime())
}

func TestStore_ChunkEvictionAndReloadOnQuery(t *testing.T) {
	epoch := time.Now()
	clock := epoch
	s := New[testRecord]("test", t.TempDir(), testRecordCodec(), testLogger(),
		WithClock[testRecord](func() time.Time { return clock }))

	for i := 1; i <= SwapThreshold; i++ {
		s.Push(float64(i), testRecord{val: i})
	}

	loaded, _ := s.GetStats()
	assert.Equal(t, 2, loaded)

	clock = epoch.Add(UnloadThreshold + time.Second)
	s.UnloadOldChunks()

	loaded, _ = s.GetStats()
	assert.Equal(t, 1, loaded)

	var got []float64
	s.Query(-1e18, nil, func(_ uint64, td *TimeData[testRecord]) {
		got = append(got, td.Time)
	})
	require.Len(t, got, SwapThreshold)

	loaded, _ = s.GetStats()
	assert.Equal(t, 2, loaded)
}

func TestBinarySearch_ReturnsFirstIndexAtOrAboveQuery(t *testing.T) {
	data := []TimeData[testRecord]{
		{Time: 1}, {Time: 3}, {Time: 5}, {Time: 7}, {Time: 9},
	}
	assert.Equal(t, 2, binarySearch(data, 4.0))
	assert.Equal(t, 2, binarySearch(data, 5.0))
	assert.Equal(t, 4, binarySearch(data, 9.0))
}
