// Package playback serializes audio commands over a two-slot pipeline so
// that crossfades, interruptions and stops never overlap.
package playback

import (
	"context"
	"time"

	"github.com/waytale/waytale/pkg/content"
)

// Slot identifies one of the pipeline's two decoder slots.
type Slot int

const (
	SlotA Slot = 0
	SlotB Slot = 1
)

// String implements fmt.Stringer.
func (s Slot) String() string {
	if s == SlotA {
		return "A"
	}
	return "B"
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Interruption is a platform audio-session notification: another audio
// demand began or ended.
type Interruption struct {
	Began bool
	At    time.Time
}

// Pipeline is the platform audio surface. Implementations are expected to
// be cheap to call; the orchestrator invokes them from its single command
// loop.
type Pipeline interface {
	// Load prepares a slot to play the descriptor's payload.
	Load(ctx context.Context, slot Slot, desc *content.AudioDescriptor) error

	// Play starts output on a loaded slot at its current volume.
	Play(slot Slot) error

	// Pause halts output on a slot without releasing it.
	Pause(slot Slot) error

	// Resume restarts output on a paused slot.
	Resume(slot Slot) error

	// SetVolume sets a slot's gain in [0,1].
	SetVolume(slot Slot, vol float64) error

	// Release tears a slot down and frees its payload.
	Release(slot Slot) error

	// Interruptions delivers platform interruption begin/end events.
	Interruptions() <-chan Interruption
}
