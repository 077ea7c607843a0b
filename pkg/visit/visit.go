// Package visit turns region and motion events into exactly one trigger per
// point of interest, honoring dwell and drive-by policy.
package visit

import (
	"time"

	"github.com/waytale/waytale/pkg/tour"
)

// State is the lifecycle of one POI within a tour pass.
type State string

const (
	StateOutside     State = "outside"
	StateApproaching State = "approaching"
	StateInside      State = "inside"
	StateDwelling    State = "dwelling"
	StateTriggered   State = "triggered"
	StateExited      State = "exited"
)

// Reason explains why a trigger fired.
type Reason string

const (
	ReasonDwell   Reason = "dwell"
	ReasonDriveBy Reason = "drive_by"
	ReasonManual  Reason = "manual"
)

// Trigger is the single narration trigger emitted for a POI.
type Trigger struct {
	POI    *tour.POI
	Reason Reason
	At     time.Time
}

// Session tracks one POI's visit progress. A session exists from the first
// region interaction until the POI is exited after triggering.
type Session struct {
	POI             *tour.POI
	State           State
	EnteredAt       time.Time
	EntrySpeed      float64
	EffectiveRadius float64
	TriggeredAt     time.Time
	Reason          Reason
}

// Snapshot is a read-only copy for presentation layers.
type Snapshot struct {
	POIID   string    `json:"poi_id"`
	Name    string    `json:"name"`
	State   State     `json:"state"`
	Reason  Reason    `json:"reason,omitempty"`
	Entered time.Time `json:"entered_at,omitempty"`
}
