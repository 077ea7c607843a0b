package geofence_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/geofence"
	"github.com/waytale/waytale/pkg/tour"
)

var base = geo.Coordinate{Lat: 48.2082, Lon: 16.3738}

// lineTour builds n POIs spaced east of base, order following distance.
func lineTour(mode tour.Mode, n int, spacing float64) *tour.Tour {
	t := &tour.Tour{ID: "line", Title: "Line", Profile: tour.DefaultProfile(mode)}
	for i := 0; i < n; i++ {
		t.POIs = append(t.POIs, tour.POI{
			ID:         fmt.Sprintf("poi-%02d", i),
			Name:       fmt.Sprintf("POI %d", i),
			Coordinate: geo.Offset(base, float64(i)*spacing, 90),
			BaseRadius: 100,
			Order:      i,
			Trigger:    tour.TriggerProximity,
		})
	}
	return t
}

func at(meters float64) geo.Coordinate { return geo.Offset(base, meters, 90) }

func newScheduler(t *testing.T, mon geofence.Monitor, cfg geofence.Config) *geofence.Scheduler {
	s := geofence.NewScheduler(mon, cfg)
	s.AssertCapViolation = func(count, cap int) {
		t.Fatalf("region cap violated: %d > %d", count, cap)
	}
	return s
}

func TestRegionCapInvariant(t *testing.T) {
	mon := geofence.NewMock(20)
	s := newScheduler(t, mon, geofence.Config{MinDisplacement: 1})
	s.SetTour(lineTour(tour.ModeWalking, 60, 400))

	now := time.Unix(1000, 0)
	// Walk the whole line; the monitored set must never exceed the cap.
	for m := 0.0; m < 24000; m += 200 {
		s.Update(at(m), 1.4, now)
		assert.LessOrEqual(t, len(s.Monitored()), 20)
		now = now.Add(time.Minute)
	}
}

func TestNearestSelectionWithReserve(t *testing.T) {
	// Scenario: 25 POIs, user at the start. 20-cap minus 2 reserve slots
	// means the 18 nearest are monitored, not 20.
	mon := geofence.NewMock(20)
	s := newScheduler(t, mon, geofence.Config{})
	s.SetTour(lineTour(tour.ModeWalking, 25, 500))

	s.Update(base, 1.4, time.Unix(1000, 0))

	monitored := s.Monitored()
	require.Len(t, monitored, 18)
	for i := 0; i < 18; i++ {
		assert.True(t, s.IsMonitored(fmt.Sprintf("poi-%02d", i)), "poi-%02d should be monitored", i)
	}
	assert.False(t, s.IsMonitored("poi-18"))
}

func TestHysteresisPreventsChurn(t *testing.T) {
	mon := geofence.NewMock(4)
	s := newScheduler(t, mon, geofence.Config{RegionCap: 4, Reserve: 2, MinDisplacement: 1})
	s.SetTour(lineTour(tour.ModeWalking, 4, 1000))

	now := time.Unix(1000, 0)
	s.Update(at(0), 0, now)
	require.True(t, s.IsMonitored("poi-00"))
	require.True(t, s.IsMonitored("poi-01"))

	// poi-02 is now marginally closer than poi-00 (950m vs 1050m), which is
	// inside the hysteresis margin: no swap.
	s.Update(at(1050), 0, now.Add(time.Minute))
	assert.True(t, s.IsMonitored("poi-00"), "marginal ranking change must not evict")
	assert.False(t, s.IsMonitored("poi-02"))

	// Decisively closer: swap happens.
	s.Update(at(1500), 0, now.Add(2*time.Minute))
	assert.False(t, s.IsMonitored("poi-00"))
	assert.True(t, s.IsMonitored("poi-02"))
}

func TestPinnedRegionPersists(t *testing.T) {
	mon := geofence.NewMock(4)
	s := newScheduler(t, mon, geofence.Config{RegionCap: 4, Reserve: 2, MinDisplacement: 1})
	s.SetTour(lineTour(tour.ModeWalking, 6, 1000))

	now := time.Unix(1000, 0)
	s.Update(at(0), 0, now)
	require.True(t, s.IsMonitored("poi-00"))

	// Mid-dwell on poi-00: its region must survive any re-ranking.
	s.Pin("poi-00")
	s.Update(at(4000), 0, now.Add(time.Minute))
	assert.True(t, s.IsMonitored("poi-00"), "pinned region must not be evicted")

	s.Unpin("poi-00")
	s.Update(at(4100), 0, now.Add(2*time.Minute))
	assert.False(t, s.IsMonitored("poi-00"))
}

func TestMarkVisitedFreesSlot(t *testing.T) {
	mon := geofence.NewMock(3)
	s := newScheduler(t, mon, geofence.Config{RegionCap: 3, Reserve: 2, MinDisplacement: 1})
	s.SetTour(lineTour(tour.ModeWalking, 3, 1000))

	now := time.Unix(1000, 0)
	s.Update(at(0), 0, now)
	require.True(t, s.IsMonitored("poi-00"))
	require.False(t, s.IsMonitored("poi-01"))

	s.MarkVisited("poi-00", now.Add(time.Minute))
	assert.False(t, s.IsMonitored("poi-00"))
	assert.True(t, s.IsMonitored("poi-01"), "freed slot should go to the next candidate")
}

func TestEffectiveRadiusScaling(t *testing.T) {
	mon := geofence.NewMock(20)
	s := geofence.NewScheduler(mon, geofence.Config{})
	tr := lineTour(tour.ModeDriving, 1, 0)
	s.SetTour(tr)
	p := &tr.POIs[0]

	assert.Equal(t, 100.0, s.EffectiveRadius(p, 0), "base radius wins at rest")
	assert.Equal(t, 450.0, s.EffectiveRadius(p, 15), "scaled by speed")
	assert.Equal(t, 600.0, s.EffectiveRadius(p, 30), "clamped to the max bound")
}

func TestRegionResizeOnSpeedChange(t *testing.T) {
	mon := geofence.NewMock(20)
	s := newScheduler(t, mon, geofence.Config{MinDisplacement: 1})
	s.SetTour(lineTour(tour.ModeDriving, 1, 0))

	now := time.Unix(1000, 0)
	s.Update(at(2000), 1, now)
	r := mon.Regions()["poi-00"]
	assert.Equal(t, 100.0, r.Radius)

	s.Update(at(1000), 15, now.Add(time.Minute))
	r = mon.Regions()["poi-00"]
	assert.Equal(t, 450.0, r.Radius, "region should be resized for speed")
}

func TestMinDisplacementSkipsEvaluation(t *testing.T) {
	mon := geofence.NewMock(20)
	s := newScheduler(t, mon, geofence.Config{MinDisplacement: 100})
	s.SetTour(lineTour(tour.ModeWalking, 5, 1000))

	now := time.Unix(1000, 0)
	s.Update(at(0), 1.4, now)
	regBefore, _ := mon.Counts()

	// 10m of movement: below the displacement threshold, no re-evaluation.
	s.Update(at(10), 1.4, now.Add(time.Second))
	regAfter, _ := mon.Counts()
	assert.Equal(t, regBefore, regAfter)
}
