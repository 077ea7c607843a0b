package visit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/tour"
	"github.com/waytale/waytale/pkg/visit"
)

func walkingProfile() tour.Profile { return tour.DefaultProfile(tour.ModeWalking) }
func drivingProfile() tour.Profile { return tour.DefaultProfile(tour.ModeDriving) }

func poi(id string, order int) *tour.POI {
	return &tour.POI{
		ID:         id,
		Name:       id,
		Coordinate: geo.Coordinate{Lat: 48.2, Lon: 16.37},
		BaseRadius: 100,
		Order:      order,
		Trigger:    tour.TriggerProximity,
	}
}

func TestDwellTrigger(t *testing.T) {
	// Walking tour, 100m radius, 1.4 m/s, user dwells 31s: one trigger.
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	p := poi("opera", 1)
	now := time.Unix(1000, 0)

	tr := e.HandleEntry(p, 100, 1.4, false, now)
	assert.Nil(t, tr, "walking entry must not drive-by trigger")
	assert.Equal(t, visit.StateInside, e.State("opera"))

	// Debounce confirms dwelling.
	assert.Empty(t, e.Advance(now.Add(3*time.Second)))
	assert.Equal(t, visit.StateDwelling, e.State("opera"))

	// Below the threshold: nothing yet.
	assert.Empty(t, e.Advance(now.Add(29*time.Second)))

	got := e.Advance(now.Add(31 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, "opera", got[0].POI.ID)
	assert.Equal(t, visit.ReasonDwell, got[0].Reason)

	// At most one trigger per pass.
	assert.Empty(t, e.Advance(now.Add(60*time.Second)))
	assert.Nil(t, e.HandleEntry(p, 100, 1.4, false, now.Add(90*time.Second)))
}

func TestDriveByTrigger(t *testing.T) {
	e := visit.NewEngine(drivingProfile(), visit.Config{})
	now := time.Unix(1000, 0)

	t.Run("slow transit waits for dwell", func(t *testing.T) {
		// 450m radius at 15 m/s: 30s transit > 5s dwell threshold.
		tr := e.HandleEntry(poi("a", 1), 450, 15, false, now)
		assert.Nil(t, tr)
	})

	t.Run("fast transit triggers on entry", func(t *testing.T) {
		// 75m radius at 20 m/s: 3.75s transit < 5s dwell threshold.
		tr := e.HandleEntry(poi("b", 2), 75, 20, false, now)
		require.NotNil(t, tr)
		assert.Equal(t, visit.ReasonDriveBy, tr.Reason)
		assert.Equal(t, visit.StateTriggered, e.State("b"))
	})

	t.Run("stale speed disables drive-by", func(t *testing.T) {
		tr := e.HandleEntry(poi("c", 3), 75, 20, true, now)
		assert.Nil(t, tr, "stale speed must fall back to the dwell policy")
	})

	t.Run("below speed threshold never drive-bys", func(t *testing.T) {
		tr := e.HandleEntry(poi("d", 4), 75, 3, false, now)
		assert.Nil(t, tr)
	})
}

func TestExitBeforeTriggerResets(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	p := poi("opera", 1)
	now := time.Unix(1000, 0)

	e.HandleEntry(p, 100, 1.4, false, now)
	e.Advance(now.Add(5 * time.Second)) // dwelling
	e.HandleExit("opera", now.Add(10*time.Second))

	assert.Equal(t, visit.StateOutside, e.State("opera"))
	assert.False(t, e.Visited("opera"))

	// Re-entry starts over; the dwell timer does not carry across visits.
	e.HandleEntry(p, 100, 1.4, false, now.Add(20*time.Second))
	assert.Empty(t, e.Advance(now.Add(40*time.Second)), "dwell restarts from re-entry")
	got := e.Advance(now.Add(51 * time.Second))
	require.Len(t, got, 1)
}

func TestExitAfterTriggerCompletes(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	p := poi("opera", 1)
	now := time.Unix(1000, 0)

	e.HandleEntry(p, 100, 1.4, false, now)
	require.Len(t, e.Advance(now.Add(31*time.Second)), 1)
	e.HandleExit("opera", now.Add(60*time.Second))

	assert.True(t, e.Visited("opera"))
	assert.Equal(t, visit.StateExited, e.State("opera"))

	// A later re-entry is ignored for the rest of the pass.
	assert.Nil(t, e.HandleEntry(p, 100, 20, false, now.Add(90*time.Second)))
	assert.Empty(t, e.Advance(now.Add(200*time.Second)))
}

func TestTieBreakByOrder(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	now := time.Unix(1000, 0)

	// Overlapping regions entered at the same time; both become due in the
	// same evaluation tick.
	e.HandleEntry(poi("later", 7), 100, 1.4, false, now)
	e.HandleEntry(poi("earlier", 2), 100, 1.4, false, now)

	got := e.Advance(now.Add(31 * time.Second))
	require.Len(t, got, 2, "the second trigger is queued, not dropped")
	assert.Equal(t, "earlier", got[0].POI.ID)
	assert.Equal(t, "later", got[1].POI.ID)
}

func TestManualPOINeverAutoTriggers(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	p := poi("museum", 1)
	p.Trigger = tour.TriggerManual
	now := time.Unix(1000, 0)

	assert.Nil(t, e.HandleEntry(p, 100, 20, false, now))
	assert.Empty(t, e.Advance(now.Add(5*time.Minute)))

	tr := e.ForceTrigger(p, now.Add(6*time.Minute))
	require.NotNil(t, tr)
	assert.Equal(t, visit.ReasonManual, tr.Reason)
}

func TestForceTriggerOnce(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	p := poi("opera", 1)
	now := time.Unix(1000, 0)

	require.NotNil(t, e.ForceTrigger(p, now))
	assert.Nil(t, e.ForceTrigger(p, now.Add(time.Second)))

	e.Complete("opera")
	assert.True(t, e.Visited("opera"))
	assert.Nil(t, e.ForceTrigger(p, now.Add(time.Minute)))
}

func TestDebounceRejectsBoundaryFlicker(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{Debounce: 2 * time.Second})
	p := poi("opera", 1)
	now := time.Unix(1000, 0)

	e.HandleEntry(p, 100, 1.4, false, now)
	// Exit within the debounce window: never confirmed as dwelling.
	e.HandleExit("opera", now.Add(time.Second))
	assert.Equal(t, visit.StateOutside, e.State("opera"))
	assert.Empty(t, e.Advance(now.Add(time.Minute)))
}

func TestPinnedSessions(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	now := time.Unix(1000, 0)

	e.HandleEntry(poi("a", 1), 100, 1.4, false, now)
	assert.Empty(t, e.Pinned(), "inside but not yet dwelling is evictable")

	e.Advance(now.Add(3 * time.Second))
	assert.Equal(t, []string{"a"}, e.Pinned())

	e.Advance(now.Add(31 * time.Second)) // triggered, pending exit
	assert.Equal(t, []string{"a"}, e.Pinned())

	e.HandleExit("a", now.Add(40*time.Second))
	assert.Empty(t, e.Pinned())
}

func TestStateChangeNotifications(t *testing.T) {
	e := visit.NewEngine(walkingProfile(), visit.Config{})
	var transitions []visit.State
	e.OnStateChange = func(_ *tour.POI, _, to visit.State) {
		transitions = append(transitions, to)
	}
	now := time.Unix(1000, 0)

	p := poi("a", 1)
	e.MarkApproaching(p)
	e.HandleEntry(p, 100, 1.4, false, now)
	e.Advance(now.Add(3 * time.Second))
	e.Advance(now.Add(31 * time.Second))
	e.HandleExit("a", now.Add(40*time.Second))

	assert.Equal(t, []visit.State{
		visit.StateApproaching,
		visit.StateInside,
		visit.StateDwelling,
		visit.StateTriggered,
		visit.StateExited,
	}, transitions)
}
