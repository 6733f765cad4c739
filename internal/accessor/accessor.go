// Package accessor exposes the single read-only handle the (out-of-scope)
// HTTP layer depends on: StringPool lookups plus Query/QueryCount/
// QueryPrevious/GetStats over all three TICS stores.
package accessor

import (
	"github.com/srg/lensd/internal/stringpool"
	"github.com/srg/lensd/internal/telemetry"
	"github.com/srg/lensd/internal/tics"
)

// Accessor is cheap to copy: every field is itself a reference type backed
// by the writer's live state, so handing a copy to each HTTP request is
// just copying four pointers and an interface-free struct.
type Accessor struct {
	Strings *stringpool.Accessor
	Frames  *tics.Accessor[telemetry.Frame]
	Zones   *tics.Accessor[telemetry.LiteZoneData]
	Plots   *tics.Accessor[telemetry.PlotSample]
}

// New builds an Accessor from the writer-side handles constructed at
// startup.
func New(pool *stringpool.Pool, frames *tics.Store[telemetry.Frame], zones *tics.Store[telemetry.LiteZoneData], plots *tics.Store[telemetry.PlotSample]) *Accessor {
	return &Accessor{
		Strings: pool.NewAccessor(),
		Frames:  frames.NewAccessor(),
		Zones:   zones.NewAccessor(),
		Plots:   plots.NewAccessor(),
	}
}

// Get resolves an interned string key.
func (a *Accessor) Get(k stringpool.Key) (string, bool) {
	return a.Strings.Get(k)
}

// Clone returns a copy of a, safe to hand to a new caller independently.
func (a *Accessor) Clone() *Accessor {
	cp := *a
	return &cp
}
