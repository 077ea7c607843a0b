package geofence

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/tour"
)

// Config tunes the scheduler. Every tuning value is overridable.
type Config struct {
	// RegionCap is the platform cap on concurrent regions (default 20).
	RegionCap int

	// Reserve slots are held back from ranking so the currently-inside
	// POI's region can persist even when it is no longer nearest-ranked.
	Reserve int

	// Hysteresis is the eviction margin multiplier: a non-monitored
	// candidate must be closer by more than Hysteresis x the smaller of
	// the two effective radii to evict a monitored POI.
	Hysteresis float64

	// MinDisplacement is the movement (meters) required since the last
	// evaluation before ranking runs again.
	MinDisplacement float64

	// ResizeEpsilon is the relative radius change that forces a
	// re-registration of an already monitored region.
	ResizeEpsilon float64
}

func (c *Config) defaults() {
	if c.RegionCap == 0 {
		c.RegionCap = DefaultRegionCap
	}
	if c.Reserve == 0 {
		c.Reserve = 2
	}
	if c.Hysteresis == 0 {
		c.Hysteresis = 1.5
	}
	if c.MinDisplacement == 0 {
		c.MinDisplacement = 25
	}
	if c.ResizeEpsilon == 0 {
		c.ResizeEpsilon = 0.1
	}
}

// Scheduler owns the monitored-region set. It is not goroutine-safe;
// the engine's event loop is its only caller.
type Scheduler struct {
	cfg     Config
	monitor Monitor
	logger  *slog.Logger

	tour      *tour.Tour
	visited   map[string]struct{}
	pinned    map[string]struct{}
	monitored map[string]Region

	lastEval    *geo.Coordinate
	lastSpeed   float64

	// AssertCapViolation is called when an internal invariant check finds
	// more regions than the cap. Tests install t.Fatalf here; production
	// leaves it nil and the set is clamped instead.
	AssertCapViolation func(count, cap int)
}

// NewScheduler creates a scheduler over the given platform monitor.
func NewScheduler(monitor Monitor, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:       cfg,
		monitor:   monitor,
		logger:    log.Component("geofence"),
		visited:   make(map[string]struct{}),
		pinned:    make(map[string]struct{}),
		monitored: make(map[string]Region),
	}
}

// SetTour replaces the active tour, clearing visited/pinned state and all
// monitored regions.
func (s *Scheduler) SetTour(t *tour.Tour) {
	for id := range s.monitored {
		if err := s.monitor.Deregister(id); err != nil {
			s.logger.Warn("deregister failed", "poi", id, "error", err)
		}
	}
	s.tour = t
	s.visited = make(map[string]struct{})
	s.pinned = make(map[string]struct{})
	s.monitored = make(map[string]Region)
	s.lastEval = nil
}

// MarkVisited excludes a POI from ranking for the rest of the tour pass and
// frees its slot immediately.
func (s *Scheduler) MarkVisited(poiID string, now time.Time) {
	s.visited[poiID] = struct{}{}
	delete(s.pinned, poiID)
	if _, ok := s.monitored[poiID]; ok {
		delete(s.monitored, poiID)
		if err := s.monitor.Deregister(poiID); err != nil {
			s.logger.Warn("deregister failed", "poi", poiID, "error", err)
		}
	}
	// A slot was freed: re-rank from the last known position.
	if s.lastEval != nil {
		s.evaluate(*s.lastEval, s.lastSpeed, now)
	}
}

// Pin protects a POI's region from eviction while its visit is in
// Dwelling or Triggered-pending-exit state.
func (s *Scheduler) Pin(poiID string) { s.pinned[poiID] = struct{}{} }

// Unpin releases the eviction protection.
func (s *Scheduler) Unpin(poiID string) { delete(s.pinned, poiID) }

// Update feeds the latest accepted position and smoothed speed.
// Ranking re-runs only after MinDisplacement of movement.
func (s *Scheduler) Update(pos geo.Coordinate, speed float64, now time.Time) {
	if s.tour == nil {
		return
	}
	if s.lastEval != nil && geo.Distance(*s.lastEval, pos) < s.cfg.MinDisplacement {
		return
	}
	s.evaluate(pos, speed, now)
}

// EffectiveRadius computes the speed-scaled, clamped region radius for a POI.
func (s *Scheduler) EffectiveRadius(p *tour.POI, speed float64) float64 {
	prof := s.tour.Profile
	r := math.Max(p.BaseRadius, prof.RadiusScale*speed)
	return math.Min(math.Max(r, prof.RadiusMin), prof.RadiusMax)
}

// Monitored returns a snapshot of the current region set.
func (s *Scheduler) Monitored() []Region {
	out := make([]Region, 0, len(s.monitored))
	for _, r := range s.monitored {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].POIID < out[j].POIID })
	return out
}

// IsMonitored reports whether a POI currently has a registered region.
func (s *Scheduler) IsMonitored(poiID string) bool {
	_, ok := s.monitored[poiID]
	return ok
}

type ranked struct {
	poi  *tour.POI
	dist float64
}

func (s *Scheduler) evaluate(pos geo.Coordinate, speed float64, now time.Time) {
	s.lastEval = &pos
	s.lastSpeed = speed

	candidates := make([]ranked, 0, len(s.tour.POIs))
	dists := make(map[string]float64)
	for i := range s.tour.POIs {
		p := &s.tour.POIs[i]
		if _, done := s.visited[p.ID]; done {
			continue
		}
		d := geo.Distance(pos, p.Coordinate)
		dists[p.ID] = d
		candidates = append(candidates, ranked{poi: p, dist: d})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].poi.Order < candidates[j].poi.Order
	})

	limit := s.cfg.RegionCap - s.cfg.Reserve
	if limit < 1 {
		limit = 1
	}

	// Pinned regions are always kept, dipping into the reserve if needed.
	desired := make(map[string]*tour.POI)
	for id := range s.pinned {
		if p := s.tour.Get(id); p != nil {
			desired[id] = p
		}
	}
	for _, c := range candidates {
		if len(desired) >= limit {
			break
		}
		desired[c.poi.ID] = c.poi
	}

	s.applyHysteresis(desired, dists, speed)

	// Invariant: never exceed the platform cap. Pinned overflow beyond the
	// reserve is clamped by dropping the farthest unpinned entries.
	if len(desired) > s.cfg.RegionCap {
		if s.AssertCapViolation != nil {
			s.AssertCapViolation(len(desired), s.cfg.RegionCap)
		}
		s.logger.Error("region cap overflow clamped", "count", len(desired), "cap", s.cfg.RegionCap)
		s.clamp(desired, dists)
	}

	s.apply(desired, speed, now)
}

// applyHysteresis keeps a currently monitored POI in place of a would-be
// newcomer unless the newcomer is decisively closer.
func (s *Scheduler) applyHysteresis(desired map[string]*tour.POI, dists map[string]float64, speed float64) {
	var evictees []*tour.POI // monitored, not in desired, not pinned
	for id := range s.monitored {
		if _, keep := desired[id]; keep {
			continue
		}
		if _, pin := s.pinned[id]; pin {
			continue
		}
		if _, done := s.visited[id]; done {
			continue
		}
		if p := s.tour.Get(id); p != nil {
			evictees = append(evictees, p)
		}
	}
	var newcomers []*tour.POI // desired, not yet monitored, not pinned
	for id, p := range desired {
		if _, mon := s.monitored[id]; mon {
			continue
		}
		if _, pin := s.pinned[id]; pin {
			continue
		}
		newcomers = append(newcomers, p)
	}
	sort.Slice(evictees, func(i, j int) bool { return dists[evictees[i].ID] < dists[evictees[j].ID] })
	sort.Slice(newcomers, func(i, j int) bool { return dists[newcomers[i].ID] > dists[newcomers[j].ID] })

	// Compare the closest evictee against the farthest newcomer; once a
	// pair is decisively separated, every remaining pair is too.
	for len(evictees) > 0 && len(newcomers) > 0 {
		e, n := evictees[0], newcomers[0]
		margin := s.cfg.Hysteresis * math.Min(s.EffectiveRadius(e, speed), s.EffectiveRadius(n, speed))
		if dists[e.ID]-dists[n.ID] > margin {
			break
		}
		delete(desired, n.ID)
		desired[e.ID] = e
		evictees = evictees[1:]
		newcomers = newcomers[1:]
	}
}

func (s *Scheduler) clamp(desired map[string]*tour.POI, dists map[string]float64) {
	type entry struct {
		id   string
		dist float64
	}
	var unpinned []entry
	for id := range desired {
		if _, pin := s.pinned[id]; !pin {
			unpinned = append(unpinned, entry{id, dists[id]})
		}
	}
	sort.Slice(unpinned, func(i, j int) bool { return unpinned[i].dist > unpinned[j].dist })
	for _, e := range unpinned {
		if len(desired) <= s.cfg.RegionCap {
			break
		}
		delete(desired, e.id)
	}
}

func (s *Scheduler) apply(desired map[string]*tour.POI, speed float64, now time.Time) {
	for id := range s.monitored {
		if _, keep := desired[id]; keep {
			continue
		}
		delete(s.monitored, id)
		if err := s.monitor.Deregister(id); err != nil {
			s.logger.Warn("deregister failed", "poi", id, "error", err)
		}
	}

	for id, p := range desired {
		radius := s.EffectiveRadius(p, speed)
		cur, ok := s.monitored[id]
		if ok && math.Abs(cur.Radius-radius) <= cur.Radius*s.cfg.ResizeEpsilon {
			continue
		}
		r := Region{POIID: id, Center: p.Coordinate, Radius: radius, RegisteredAt: now}
		if ok {
			r.RegisteredAt = cur.RegisteredAt
		}
		if err := s.monitor.Register(r); err != nil {
			s.logger.Error("register failed", "poi", id, "error", err)
			continue
		}
		s.monitored[id] = r
	}
}
