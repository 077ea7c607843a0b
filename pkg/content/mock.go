package content

import (
	"context"
	"sync"
	"time"

	"github.com/waytale/waytale/pkg/tour"
)

// MockSource is a scriptable Source for tests and the simulate command.
// It records every call and can fail, delay, or block until cancelled.
type MockSource struct {
	kind SourceKind

	mu      sync.Mutex
	calls   []string // POI ids in call order
	err     error
	latency time.Duration
	block   bool
	started chan string // receives the POI id as each call begins, if set
}

// NewMockSource creates a mock for the given chain stage.
func NewMockSource(kind SourceKind) *MockSource {
	return &MockSource{kind: kind}
}

// Kind implements Source.
func (m *MockSource) Kind() SourceKind { return m.kind }

// Fail makes subsequent calls return err (nil restores success).
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Delay makes subsequent calls sleep for d before completing.
// The delay is real time; pair it with short durations in tests.
func (m *MockSource) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Block makes subsequent calls hang until their context is cancelled.
func (m *MockSource) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = true
}

// NotifyStarted delivers each call's POI id on ch as the call begins.
func (m *MockSource) NotifyStarted(ch chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = ch
}

// Calls returns the POI ids resolved so far.
func (m *MockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Resolve implements Source.
func (m *MockSource) Resolve(ctx context.Context, p *tour.POI) (*AudioDescriptor, error) {
	m.mu.Lock()
	m.calls = append(m.calls, p.ID)
	err := m.err
	latency := m.latency
	block := m.block
	started := m.started
	m.mu.Unlock()

	if started != nil {
		started <- p.ID
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &AudioDescriptor{
		SourceKind:    m.kind,
		PayloadHandle: string(m.kind) + "://" + p.ID,
		Duration:      45 * time.Second,
		Transcript:    p.Script,
	}, nil
}
