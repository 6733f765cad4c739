// Package telemetry holds the three element types stored in the
// Time-Indexed Chunked Store, along with the tics.Codec each needs for disk
// spill. These are the "after interning" forms the Poller produces: any
// InlineString payload carried by the producer has already been handed to
// the StringPool, and only its numeric key remains here.
package telemetry

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/lensd/internal/tics"
)

// Frame is one frame-boundary marker, stored verbatim (it carries no
// interned strings).
type Frame struct {
	End float64
}

// ShouldStopQuery implements tics.Terminator: frames have no extent, so a
// query can stop as soon as an element's time is past the window.
func (f Frame) ShouldStopQuery(t, queryMax float64) bool {
	return t > queryMax
}

// FrameCodec spills/reloads Frame records.
func FrameCodec() tics.Codec[Frame] {
	return tics.Codec[Frame]{
		Encode: func(f Frame) ([]byte, error) {
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64FromFloat(f.End))
			return buf, nil
		},
		Decode: func(b []byte) (Frame, error) {
			if len(b) != 8 {
				return Frame{}, fmt.Errorf("telemetry: bad frame record length %d", len(b))
			}
			return Frame{End: floatFromUint64(binary.LittleEndian.Uint64(b))}, nil
		},
	}
}

// Color is a packed RGBA color, carried through from the producer unchanged.
type Color [4]byte

// LiteZoneData is one instrumented-scope record with its Name/Thread
// InlineString payloads replaced by the numeric keys the StringPool
// resolves them under: the "lite" form stored in zone_db.
type LiteZoneData struct {
	UID       uint64
	Color     Color
	End       float64
	Duration  uint64 // nanoseconds
	Depth     uint32
	NameKey   uint64
	ThreadKey uint64
}

// ShouldStopQuery reports whether a forward scan can stop here: a top-level
// span (Depth == 0) whose entire extent, from End-Duration through End,
// lies after the query window can safely end the scan, since no later
// top-level span can start earlier than this one ends. Nested spans
// (Depth > 0) never terminate the scan on their own, since their enclosing
// top-level span may still be alive.
func (z LiteZoneData) ShouldStopQuery(t, queryMax float64) bool {
	return z.Depth == 0 && t-float64(z.Duration)*1e-9 > queryMax
}

// ZoneCodec spills/reloads LiteZoneData records.
func ZoneCodec() tics.Codec[LiteZoneData] {
	return tics.Codec[LiteZoneData]{
		Encode: func(z LiteZoneData) ([]byte, error) {
			buf := make([]byte, 8+4+8+8+4+8+8)
			off := 0
			binary.LittleEndian.PutUint64(buf[off:], z.UID)
			off += 8
			copy(buf[off:], z.Color[:])
			off += 4
			binary.LittleEndian.PutUint64(buf[off:], uint64FromFloat(z.End))
			off += 8
			binary.LittleEndian.PutUint64(buf[off:], z.Duration)
			off += 8
			binary.LittleEndian.PutUint32(buf[off:], z.Depth)
			off += 4
			binary.LittleEndian.PutUint64(buf[off:], z.NameKey)
			off += 8
			binary.LittleEndian.PutUint64(buf[off:], z.ThreadKey)
			return buf, nil
		},
		Decode: func(b []byte) (LiteZoneData, error) {
			const want = 8 + 4 + 8 + 8 + 4 + 8 + 8
			if len(b) != want {
				return LiteZoneData{}, fmt.Errorf("telemetry: bad zone record length %d, want %d", len(b), want)
			}
			var z LiteZoneData
			off := 0
			z.UID = binary.LittleEndian.Uint64(b[off:])
			off += 8
			copy(z.Color[:], b[off:off+4])
			off += 4
			z.End = floatFromUint64(binary.LittleEndian.Uint64(b[off:]))
			off += 8
			z.Duration = binary.LittleEndian.Uint64(b[off:])
			off += 8
			z.Depth = binary.LittleEndian.Uint32(b[off:])
			off += 4
			z.NameKey = binary.LittleEndian.Uint64(b[off:])
			off += 8
			z.ThreadKey = binary.LittleEndian.Uint64(b[off:])
			return z, nil
		},
	}
}

// PlotSample is one named time-series sample with its Name InlineString
// payload replaced by the StringPool key, stored in plot_db.
type PlotSample struct {
	Color   uint32
	Value   float64
	NameKey uint64
}

// ShouldStopQuery is trivial for a plot sample: it has no extent, so time
// past the window always terminates the scan.
func (p PlotSample) ShouldStopQuery(t, queryMax float64) bool {
	return t > queryMax
}

// PlotCodec spills/reloads PlotSample records.
func PlotCodec() tics.Codec[PlotSample] {
	return tics.Codec[PlotSample]{
		Encode: func(p PlotSample) ([]byte, error) {
			buf := make([]byte, 4+8+8)
			binary.LittleEndian.PutUint32(buf[0:], p.Color)
			binary.LittleEndian.PutUint64(buf[4:], uint64FromFloat(p.Value))
			binary.LittleEndian.PutUint64(buf[12:], p.NameKey)
			return buf, nil
		},
		Decode: func(b []byte) (PlotSample, error) {
			if len(b) != 20 {
				return PlotSample{}, fmt.Errorf("telemetry: bad plot record length %d", len(b))
			}
			return PlotSample{
				Color:   binary.LittleEndian.Uint32(b[0:]),
				Value:   floatFromUint64(binary.LittleEndian.Uint64(b[4:])),
				NameKey: binary.LittleEndian.Uint64(b[12:]),
			}, nil
		},
	}
}
