package engine

import (
	"time"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/motion"
	"github.com/waytale/waytale/pkg/tour"
)

// Event is one entry on the serialized queue. Every input to the engine —
// position fixes, region crossings, resolver completions, manual overrides —
// is an Event; the loop consumes them strictly in order, which is what makes
// trigger emission deterministic for a given input sequence.
type Event interface {
	event()
}

// PositionUpdated carries one raw position sample.
type PositionUpdated struct {
	Sample motion.Sample
}

// SignalLost is injected when the platform reports loss of positioning.
// The classifier also detects staleness on its own; this event exists so
// recorded traces can reproduce platform-reported outages exactly.
type SignalLost struct {
	At time.Time
}

// RegionEntered reports a boundary crossing into a monitored region.
type RegionEntered struct {
	POIID string
	At    time.Time
}

// RegionExited reports a boundary crossing out of a monitored region.
type RegionExited struct {
	POIID string
	At    time.Time
}

// ContentResult wraps a resolver completion marshaled back onto the queue.
type ContentResult struct {
	Result content.Result
}

// ManualTrigger is the user's jump-ahead override for a POI.
type ManualTrigger struct {
	POIID string
}

// Skip abandons the current narration and marks its POI visited.
type Skip struct{}

// Resume explicitly resumes playback after an interruption.
type Resume struct{}

// InterruptionBegan reports an external audio demand.
type InterruptionBegan struct{}

// InterruptionEnded reports the end of an external audio demand.
type InterruptionEnded struct{}

// TourReplaced swaps in a new tour definition (hot reload).
type TourReplaced struct {
	Tour *tour.Tour
}

// Tick drives time-based evaluation (dwell maturation, staleness checks).
type Tick struct{}

// Barrier is acknowledged once every event queued before it has been
// processed. Trace replay uses it to interleave clock advances with event
// delivery deterministically.
type Barrier struct {
	Done chan struct{}
}

func (PositionUpdated) event()   {}
func (SignalLost) event()        {}
func (RegionEntered) event()     {}
func (RegionExited) event()      {}
func (ContentResult) event()     {}
func (ManualTrigger) event()     {}
func (Skip) event()              {}
func (Resume) event()            {}
func (InterruptionBegan) event() {}
func (InterruptionEnded) event() {}
func (TourReplaced) event()      {}
func (Tick) event()              {}
func (Barrier) event()           {}
