package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/waytale/waytale/pkg/content"
)

// Call records one pipeline invocation for assertions.
type Call struct {
	Op     string
	Slot   Slot
	Volume float64
	Desc   *content.AudioDescriptor
}

type mockSlot struct {
	desc    *content.AudioDescriptor
	playing bool
	paused  bool
	volume  float64
}

// MockPipeline is a test double recording every call and tracking per-slot
// audibility.
type MockPipeline struct {
	mu    sync.Mutex
	slots [2]mockSlot
	calls []Call

	loadErr error
	playErr error

	intr chan Interruption
}

// NewMockPipeline creates a mock with an unbuffered interruption channel.
func NewMockPipeline() *MockPipeline {
	return &MockPipeline{intr: make(chan Interruption)}
}

// FailLoad makes subsequent Load calls return err (nil clears).
func (m *MockPipeline) FailLoad(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// FailPlay makes subsequent Play calls return err (nil clears).
func (m *MockPipeline) FailPlay(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// Interrupt delivers a platform interruption event, blocking until the
// orchestrator consumes it.
func (m *MockPipeline) Interrupt(began bool) {
	m.intr <- Interruption{Began: began}
}

// Load implements Pipeline.
func (m *MockPipeline) Load(ctx context.Context, slot Slot, desc *content.AudioDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "load", Slot: slot, Desc: desc})
	if m.loadErr != nil {
		return m.loadErr
	}
	m.slots[slot] = mockSlot{desc: desc}
	return nil
}

// Play implements Pipeline.
func (m *MockPipeline) Play(slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "play", Slot: slot})
	if m.playErr != nil {
		return m.playErr
	}
	if m.slots[slot].desc == nil {
		return fmt.Errorf("mock: play on unloaded slot %s", slot)
	}
	m.slots[slot].playing = true
	m.slots[slot].paused = false
	return nil
}

// Pause implements Pipeline.
func (m *MockPipeline) Pause(slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "pause", Slot: slot})
	if !m.slots[slot].playing {
		return fmt.Errorf("mock: pause on idle slot %s", slot)
	}
	m.slots[slot].playing = false
	m.slots[slot].paused = true
	return nil
}

// Resume implements Pipeline.
func (m *MockPipeline) Resume(slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "resume", Slot: slot})
	if !m.slots[slot].paused {
		return fmt.Errorf("mock: resume on slot %s that is not paused", slot)
	}
	m.slots[slot].playing = true
	m.slots[slot].paused = false
	return nil
}

// SetVolume implements Pipeline.
func (m *MockPipeline) SetVolume(slot Slot, vol float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "set_volume", Slot: slot, Volume: vol})
	m.slots[slot].volume = vol
	return nil
}

// Release implements Pipeline.
func (m *MockPipeline) Release(slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "release", Slot: slot})
	m.slots[slot] = mockSlot{}
	return nil
}

// Interruptions implements Pipeline.
func (m *MockPipeline) Interruptions() <-chan Interruption {
	return m.intr
}

// Calls returns a copy of the recorded call log.
func (m *MockPipeline) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Ops returns just the operation names, in order.
func (m *MockPipeline) Ops() []string {
	calls := m.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Audible returns the slots that are playing with non-zero volume.
func (m *MockPipeline) Audible() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for s := SlotA; s <= SlotB; s++ {
		if m.slots[s].playing && m.slots[s].volume > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Loaded reports whether a slot currently holds a payload.
func (m *MockPipeline) Loaded(slot Slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[slot].desc != nil
}
