// Package poller implements the single dedicated goroutine that drains the
// three ShmemRing rings into the StringPool and the three TICS stores.
package poller

import (
	"context"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/lensd/internal/shmring"
	"github.com/srg/lensd/internal/stringpool"
	"github.com/srg/lensd/internal/telemetry"
	"github.com/srg/lensd/internal/tics"
)

// keepAliveTimeout is how long the Poller waits without a KeepAlive() call
// before treating the producer as dead and shutting the process down.
const keepAliveTimeout = 30 * time.Second

// frameSource, zoneSource and plotSource are the minimal shapes Poller needs
// out of a ring: *shmring.Ring[T] satisfies these directly, and so does
// shmringtest.Source[T], which lets tests drive the drain/backoff logic
// without a real mmap'd /dev/shm segment.
type frameSource interface {
	Drain(dst []shmring.FrameData) (count, missed int)
}

type zoneSource interface {
	Drain(dst []shmring.ZoneData) (count, missed int)
}

type plotSource interface {
	Drain(dst []shmring.PlotData) (count, missed int)
}

// Poller is the sole writer to all three TICS stores and the StringPool. It
// drains whatever ring sources it was built with on each Tick.
type Poller struct {
	frameSrc    frameSource
	zoneSrc     zoneSource
	plotSrc     plotSource
	closeRegion func() error

	frames *tics.Store[telemetry.Frame]
	zones  *tics.Store[telemetry.LiteZoneData]
	plots  *tics.Store[telemetry.PlotSample]
	pool   *stringpool.Pool
	logger *logrus.Logger

	now   func() time.Time
	epoch time.Time

	keepAliveEnabled bool
	lastKeepAlive    atomic.Int64
	onExpire         func()

	lastZoneTime  float64
	nonEmptyTicks int

	frameBuf []shmring.FrameData
	zoneBuf  []shmring.ZoneData
	plotBuf  []shmring.PlotData
}

// Option configures a Poller at construction.
type Option func(*Poller)

// WithClock overrides the poller's time source; used by tests to simulate
// keep-alive expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithKeepAliveWatchdog enables the 30s dead-producer shutdown check. Off by
// default, since not every caller wants the process to exit itself when a
// producer goes quiet.
func WithKeepAliveWatchdog() Option {
	return func(p *Poller) { p.keepAliveEnabled = true }
}

// WithOnExpire overrides what happens when the keep-alive watchdog fires.
// Defaults to releasing the shared-memory region and exiting the process
// with status 0. Tests substitute a non-exiting stub.
func WithOnExpire(fn func()) Option {
	return func(p *Poller) { p.onExpire = fn }
}

// New creates a Poller draining region into frames/zones/plots and interning
// strings into pool.
func New(region *shmring.Region, frames *tics.Store[telemetry.Frame], zones *tics.Store[telemetry.LiteZoneData], plots *tics.Store[telemetry.PlotSample], pool *stringpool.Pool, logger *logrus.Logger, opts ...Option) *Poller {
	return newWithSources(region.Frames, region.Zones, region.Plots, region.Close, frames, zones, plots, pool, logger, opts...)
}

// newWithSources is New's underlying constructor, parameterized over the
// ring sources rather than a concrete *shmring.Region so tests can substitute
// shmringtest.Source[T] fakes for the real mmap'd rings.
func newWithSources(frameSrc frameSource, zoneSrc zoneSource, plotSrc plotSource, closeRegion func() error, frames *tics.Store[telemetry.Frame], zones *tics.Store[telemetry.LiteZoneData], plots *tics.Store[telemetry.PlotSample], pool *stringpool.Pool, logger *logrus.Logger, opts ...Option) *Poller {
	p := &Poller{
		frameSrc:    frameSrc,
		zoneSrc:     zoneSrc,
		plotSrc:     plotSrc,
		closeRegion: closeRegion,
		frames:      frames,
		zones:       zones,
		plots:       plots,
		pool:        pool,
		logger:      logger,
		now:         time.Now,
		frameBuf:    make([]shmring.FrameData, shmring.NumEntries),
		zoneBuf:     make([]shmring.ZoneData, shmring.NumEntries),
		plotBuf:     make([]shmring.PlotData, shmring.NumEntries),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.onExpire == nil {
		p.onExpire = func() {
			if err := p.closeRegion(); err != nil {
				p.logger.WithError(err).Error("poller: failed to release shared memory on keep-alive expiry")
			}
			os.Exit(0)
		}
	}
	p.epoch = p.now()
	return p
}

func (p *Poller) elapsedSeconds() int64 {
	return int64(p.now().Sub(p.epoch) / time.Second)
}

// KeepAlive resets the dead-producer watchdog. Safe to call from any
// goroutine.
func (p *Poller) KeepAlive() {
	p.lastKeepAlive.Store(p.elapsedSeconds())
}

// Tick runs one iteration of the drain loop: keep-alive check, drain all
// three rings, unload idle chunks, then apply the idle/backoff policy.
// Meant to be driven by a stoppable.Thread.
func (p *Poller) Tick(_ context.Context) {
	if p.keepAliveEnabled {
		if p.elapsedSeconds()-p.lastKeepAlive.Load() >= int64(keepAliveTimeout.Seconds()) {
			p.logger.Warn("poller: keep-alive expired, producer presumed dead, shutting down")
			p.onExpire()
			return
		}
	}

	drained := p.drainFrames() + p.drainZones() + p.drainPlots()

	p.frames.UnloadOldChunks()
	p.zones.UnloadOldChunks()
	p.plots.UnloadOldChunks()

	if drained == 0 {
		p.nonEmptyTicks = 0
		time.Sleep(10 * time.Millisecond)
		return
	}

	p.nonEmptyTicks++
	if p.nonEmptyTicks%4 == 0 {
		runtime.Gosched()
	}
}

func (p *Poller) drainFrames() int {
	n, missed := p.frameSrc.Drain(p.frameBuf)
	if missed > 0 {
		p.logger.WithField("missed", missed).Warn("poller: frame ring overflowed, producer outran the consumer")
	}
	for i := 0; i < n; i++ {
		rec := &p.frameBuf[i]
		p.frames.Push(rec.End, telemetry.Frame{End: rec.End})
	}
	return n
}

func (p *Poller) drainZones() int {
	n, missed := p.zoneSrc.Drain(p.zoneBuf)
	if missed > 0 {
		p.logger.WithField("missed", missed).Warn("poller: zone ring overflowed, producer outran the consumer")
	}

	for i := 0; i < n; i++ {
		rec := &p.zoneBuf[i]

		if rec.Name.HasContents {
			p.internOrWarn(stringpool.StaticString, rec.Name.Key, rec.Name.Payload())
		}
		if rec.Thread.HasContents {
			p.internOrWarn(stringpool.ThreadName, rec.Thread.Key, rec.Thread.Payload())
		}

		lite := telemetry.LiteZoneData{
			UID:       rec.UID,
			Color:     telemetry.Color(rec.Color),
			End:       rec.End,
			Duration:  rec.Duration,
			Depth:     rec.Depth,
			NameKey:   rec.Name.Key,
			ThreadKey: rec.Thread.Key,
		}

		// Clamp to the previously-emitted time rather than dropping: minor
		// producer reordering between zones is expected, and zone_db's
		// monotonicity is more valuable to preserve than exact timing.
		pushTime := rec.End
		if p.lastZoneTime > pushTime {
			pushTime = p.lastZoneTime
		}
		p.zones.Push(pushTime, lite)
		p.lastZoneTime = rec.End
	}
	return n
}

func (p *Poller) drainPlots() int {
	n, missed := p.plotSrc.Drain(p.plotBuf)
	if missed > 0 {
		p.logger.WithField("missed", missed).Warn("poller: plot ring overflowed, producer outran the consumer")
	}

	for i := 0; i < n; i++ {
		rec := &p.plotBuf[i]
		if rec.Name.HasContents {
			p.internOrWarn(stringpool.StaticString, rec.Name.Key, rec.Name.Payload())
		}
		p.plots.Push(rec.Time, telemetry.PlotSample{
			Color:   rec.Color,
			Value:   rec.Value,
			NameKey: rec.Name.Key,
		})
	}
	return n
}

func (p *Poller) internOrWarn(kind stringpool.Kind, key uint64, payload []byte) {
	if err := p.pool.Insert(stringpool.Key{Kind: kind, ID: key}, string(payload)); err != nil {
		p.logger.WithError(err).WithField("key", key).Warn("poller: failed to intern string, key will resolve to the sentinel")
	}
}
