package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/srg/lensd/internal/shmring"
	"github.com/srg/lensd/internal/shmring/shmringtest"
	"github.com/srg/lensd/internal/stringpool"
	"github.com/srg/lensd/internal/telemetry"
	"github.com/srg/lensd/internal/tics"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

type testRig struct {
	frameSrc *shmringtest.Source[shmring.FrameData]
	zoneSrc  *shmringtest.Source[shmring.ZoneData]
	plotSrc  *shmringtest.Source[shmring.PlotData]
	frames   *tics.Store[telemetry.Frame]
	zones    *tics.Store[telemetry.LiteZoneData]
	plots    *tics.Store[telemetry.PlotSample]
	pool     *stringpool.Pool
	poller   *Poller
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()

	r := &testRig{
		frameSrc: shmringtest.NewSource[shmring.FrameData](shmring.NumEntries),
		zoneSrc:  shmringtest.NewSource[shmring.ZoneData](shmring.NumEntries),
		plotSrc:  shmringtest.NewSource[shmring.PlotData](shmring.NumEntries),
	}

	logger := testLogger()
	r.frames = tics.New[telemetry.Frame]("frames", t.TempDir(), telemetry.FrameCodec(), logger)
	r.zones = tics.New[telemetry.LiteZoneData]("zones", t.TempDir(), telemetry.ZoneCodec(), logger)
	r.plots = tics.New[telemetry.PlotSample]("plots", t.TempDir(), telemetry.PlotCodec(), logger)
	r.pool = stringpool.New()

	closeRegion := func() error { return nil }

	r.poller = newWithSources(r.frameSrc, r.zoneSrc, r.plotSrc, closeRegion, r.frames, r.zones, r.plots, r.pool, logger, opts...)
	return r
}

func TestPoller_TickWithNoDataIsNoop(t *testing.T) {
	r := newTestRig(t)
	assert.NotPanics(t, func() { r.poller.Tick(context.Background()) })
}

func TestPoller_TickDrainsFramesZonesAndPlots(t *testing.T) {
	r := newTestRig(t)

	r.frameSrc.Produce(shmring.FrameData{End: 1.0})
	r.zoneSrc.Produce(shmring.ZoneData{
		UID: 7, End: 2.0, Duration: 1_000_000_000, Depth: 0,
		Name: shmring.InlineString{Key: 42, HasContents: true, Len: 4, Bytes: [64]byte{'m', 'a', 'i', 'n'}},
	})
	r.plotSrc.Produce(shmring.PlotData{Time: 3.0, Value: 9.5})

	r.poller.Tick(context.Background())

	assert.Equal(t, 1.0, r.frames.GetMaxTime())
	assert.Equal(t, 2.0, r.zones.GetMaxTime())
	assert.Equal(t, 3.0, r.plots.GetMaxTime())

	accessor := r.pool.NewAccessor()
	name, ok := accessor.Get(stringpool.Key{Kind: stringpool.StaticString, ID: 42})
	assert.True(t, ok)
	assert.Equal(t, "main", name)
}

func TestPoller_ZoneTimeClampsInsteadOfDropping(t *testing.T) {
	r := newTestRig(t)

	r.zoneSrc.Produce(shmring.ZoneData{UID: 1, End: 10.0, Depth: 0})
	r.poller.Tick(context.Background())
	assert.Equal(t, 10.0, r.zones.GetMaxTime())

	// A slightly out-of-order zone (End went backwards) must still be kept,
	// clamped to the last emitted time, rather than dropped like frames/plots.
	r.zoneSrc.Produce(shmring.ZoneData{UID: 2, End: 9.0, Depth: 0})
	r.poller.Tick(context.Background())

	count := 0
	r.zones.Query(0, nil, func(_ uint64, _ *tics.TimeData[telemetry.LiteZoneData]) { count++ })
	assert.Equal(t, 2, count, "the backwards zone should have been clamped and kept, not dropped")
}

func TestPoller_NonEmptyTicksAccumulate(t *testing.T) {
	r := newTestRig(t)

	for i := 0; i < 5; i++ {
		r.frameSrc.Produce(shmring.FrameData{End: float64(i)})
		r.poller.Tick(context.Background())
	}
	assert.Equal(t, 5, r.poller.nonEmptyTicks)

	r.poller.Tick(context.Background())
	assert.Equal(t, 0, r.poller.nonEmptyTicks, "a tick with nothing to drain resets the counter")
}

func TestPoller_KeepAliveWatchdogFiresAfterTimeout(t *testing.T) {
	epoch := time.Now()
	clock := epoch
	var expired atomic.Bool

	r := newTestRig(t,
		WithClock(func() time.Time { return clock }),
		WithKeepAliveWatchdog(),
		WithOnExpire(func() { expired.Store(true) }),
	)

	r.poller.Tick(context.Background())
	assert.False(t, expired.Load())

	clock = epoch.Add(31 * time.Second)
	r.poller.Tick(context.Background())
	assert.True(t, expired.Load())
}

func TestPoller_KeepAliveResetsTimer(t *testing.T) {
	epoch := time.Now()
	clock := epoch
	var expired atomic.Bool

	r := newTestRig(t,
		WithClock(func() time.Time { return clock }),
		WithKeepAliveWatchdog(),
		WithOnExpire(func() { expired.Store(true) }),
	)

	clock = epoch.Add(20 * time.Second)
	r.poller.KeepAlive()

	clock = epoch.Add(35 * time.Second)
	r.poller.Tick(context.Background())
	assert.False(t, expired.Load(), "keep-alive at t=20s should push the deadline to t=50s")
}
