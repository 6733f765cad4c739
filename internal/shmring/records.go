// Package shmring implements the reader side of the shared-memory transport
// between an instrumented producer process and this server.
//
// The producer (out of scope for this module) writes fixed-layout records
// into a process-global shared-memory region made of three independent
// single-producer/single-consumer ring buffers: frame_data, zone_data and
// plot_data. This package only ever reads; it never writes a slot.
package shmring

// maxInlineStringLen bounds the byte payload carried inline in a
// ZoneData/PlotData record. The producer sends the payload for a given key
// only the first time that key is seen (InlineString.HasContents); longer
// names are the producer's responsibility to avoid, but a corrupt or
// misbehaving producer is handled defensively on read (see InlineString.Payload).
const maxInlineStringLen = 64

// InlineString carries a numeric interning key plus, optionally, the byte
// payload for that key. Len and Bytes are only populated "the first time" a
// given key is sent by the producer; subsequent records carrying the same key
// carry only the key, with HasContents false.
type InlineString struct {
	Key         uint64
	HasContents bool
	Len         uint16
	Bytes       [maxInlineStringLen]byte
}

// Payload returns the byte payload carried by this record, truncated to the
// on-wire length. Empty when HasContents is false.
func (s *InlineString) Payload() []byte {
	if !s.HasContents {
		return nil
	}
	n := int(s.Len)
	if n > len(s.Bytes) {
		n = len(s.Bytes)
	}
	return s.Bytes[:n]
}

// FrameData is one frame-boundary record. Stored verbatim by the poller.
type FrameData struct {
	End float64 // seconds
}

// Color is a packed RGBA color as sent by the producer.
type Color [4]byte

// ZoneData is one instrumented-scope (span) record, raw producer form.
type ZoneData struct {
	UID      uint64
	Color    Color
	End      float64 // seconds
	Duration uint64  // nanoseconds
	Depth    uint32  // call-stack depth, 0 = top-level
	Name     InlineString
	Thread   InlineString
}

// PlotData is one named time-series sample.
type PlotData struct {
	Time  float64
	Color uint32
	Value float64
	Name  InlineString
}
