package clock_test

import (
	"testing"
	"time"

	"github.com/waytale/waytale/pkg/clock"
)

func TestMockAdvance(t *testing.T) {
	m := clock.NewMock()
	start := m.Now()

	ch := m.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	m.Advance(3 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	m.Advance(2 * time.Second)
	select {
	case fired := <-ch:
		if fired.Sub(start) != 5*time.Second {
			t.Errorf("fired at %v after start", fired.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestMockZeroDuration(t *testing.T) {
	m := clock.NewMock()
	select {
	case <-m.After(0):
	case <-time.After(time.Second):
		t.Fatal("zero-duration After did not fire immediately")
	}
}
