// Package geofence selects and maintains the capped set of actively
// monitored proximity regions for a tour.
package geofence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/waytale/waytale/pkg/geo"
)

// DefaultRegionCap is the platform-imposed maximum number of concurrently
// observable proximity regions.
const DefaultRegionCap = 20

// ErrRegionCapExceeded is returned by monitors when a registration would
// exceed the platform cap. The scheduler must make this unreachable.
var ErrRegionCapExceeded = errors.New("geofence: region cap exceeded")

// Region is one actively monitored proximity region.
type Region struct {
	POIID        string
	Center       geo.Coordinate
	Radius       float64
	RegisteredAt time.Time
}

// EventKind distinguishes region boundary crossings.
type EventKind string

const (
	EventEntry EventKind = "entry"
	EventExit  EventKind = "exit"
)

// Event is an asynchronous boundary crossing pushed by the monitor.
type Event struct {
	POIID string
	Kind  EventKind
	At    time.Time
}

// Monitor is the platform region-monitoring service contract.
// Register with an existing POI id resizes the region in place.
type Monitor interface {
	Register(r Region) error
	Deregister(poiID string) error
	Events() <-chan Event
}

// Mock is an in-memory Monitor for tests and the simulate command.
// It enforces the region cap and lets tests push boundary events.
type Mock struct {
	mu      sync.Mutex
	cap     int
	regions map[string]Region
	events  chan Event

	registers   int
	deregisters int
}

// NewMock creates a mock monitor with the given cap (0 means the default).
func NewMock(regionCap int) *Mock {
	if regionCap == 0 {
		regionCap = DefaultRegionCap
	}
	return &Mock{
		cap:     regionCap,
		regions: make(map[string]Region),
		events:  make(chan Event, 64),
	}
}

// Register adds or resizes a region.
func (m *Mock) Register(r Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[r.POIID]; !ok && len(m.regions) >= m.cap {
		return fmt.Errorf("%w: %d", ErrRegionCapExceeded, m.cap)
	}
	m.regions[r.POIID] = r
	m.registers++
	return nil
}

// Deregister removes a region. Unknown ids are ignored.
func (m *Mock) Deregister(poiID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, poiID)
	m.deregisters++
	return nil
}

// Events returns the boundary event channel.
func (m *Mock) Events() <-chan Event {
	return m.events
}

// Emit pushes a boundary event, as the platform would.
func (m *Mock) Emit(poiID string, kind EventKind, at time.Time) {
	m.events <- Event{POIID: poiID, Kind: kind, At: at}
}

// Regions returns a snapshot of the registered regions.
func (m *Mock) Regions() map[string]Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Region, len(m.regions))
	for k, v := range m.regions {
		out[k] = v
	}
	return out
}

// Counts returns total register and deregister calls, for churn assertions.
func (m *Mock) Counts() (registers, deregisters int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers, m.deregisters
}
