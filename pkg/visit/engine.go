package visit

import (
	"log/slog"
	"sort"
	"time"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/tour"
)

// Config tunes the visit engine.
type Config struct {
	// Debounce is the continuous-presence window required before an
	// Inside session is confirmed as Dwelling, rejecting boundary flicker.
	Debounce time.Duration
}

func (c *Config) defaults() {
	if c.Debounce == 0 {
		c.Debounce = 2 * time.Second
	}
}

// Engine runs one state machine per POI. It is purely event-driven: all
// decisions derive from the supplied timestamps and the event order, never
// from the wall clock, so identical event sequences yield identical
// trigger sequences.
//
// Not goroutine-safe; the serialized engine loop is its only caller.
type Engine struct {
	cfg     Config
	profile tour.Profile
	logger  *slog.Logger

	sessions map[string]*Session
	visited  map[string]struct{}

	// OnStateChange observes every session transition. The orchestrating
	// engine uses it to pin dwelling regions and to update snapshots.
	OnStateChange func(poi *tour.POI, from, to State)
}

// NewEngine creates a visit engine for a tour profile.
func NewEngine(profile tour.Profile, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:      cfg,
		profile:  profile,
		logger:   log.Component("visit"),
		sessions: make(map[string]*Session),
		visited:  make(map[string]struct{}),
	}
}

// Reset replaces the profile and clears all sessions (tour change).
func (e *Engine) Reset(profile tour.Profile) {
	e.profile = profile
	e.sessions = make(map[string]*Session)
	e.visited = make(map[string]struct{})
}

// MarkApproaching notes that a POI entered the monitored set but not yet its
// region boundary. Informational only; no side effects on triggering.
func (e *Engine) MarkApproaching(p *tour.POI) {
	if e.done(p.ID) {
		return
	}
	if _, ok := e.sessions[p.ID]; ok {
		return
	}
	s := &Session{POI: p, State: StateApproaching}
	e.sessions[p.ID] = s
	e.notify(p, StateOutside, StateApproaching)
}

// HandleEntry processes a region-entry event. speedStale means the motion
// signal is lost and the speed must be treated as walking-equivalent, which
// disables the drive-by shortcut.
//
// It returns a drive-by trigger when the projected transit time through the
// region is shorter than the dwell threshold: the user would leave before
// the dwell timer fires, so the trigger fires on entry instead.
func (e *Engine) HandleEntry(p *tour.POI, radius, speed float64, speedStale bool, now time.Time) *Trigger {
	if e.done(p.ID) {
		return nil
	}
	s := e.sessions[p.ID]
	if s == nil {
		s = &Session{POI: p, State: StateOutside}
		e.sessions[p.ID] = s
	}
	if s.State == StateInside || s.State == StateDwelling || s.State == StateTriggered {
		return nil
	}

	from := s.State
	s.State = StateInside
	s.EnteredAt = now
	s.EntrySpeed = speed
	s.EffectiveRadius = radius
	e.notify(p, from, StateInside)

	if p.Trigger == tour.TriggerManual {
		return nil
	}
	if speedStale || speed <= 0 {
		return nil
	}
	if speed >= e.profile.DriveBySpeed {
		transit := time.Duration(radius / speed * float64(time.Second))
		if transit < e.profile.DwellThreshold {
			return e.fire(s, ReasonDriveBy, now)
		}
	}
	return nil
}

// HandleExit processes a region-exit event. Exits before the trigger
// condition is met revert the POI to Outside; it may be re-entered and
// re-evaluated from scratch. Exits after triggering complete the visit.
func (e *Engine) HandleExit(poiID string, now time.Time) {
	s := e.sessions[poiID]
	if s == nil {
		return
	}
	switch s.State {
	case StateInside, StateDwelling, StateApproaching:
		from := s.State
		delete(e.sessions, poiID)
		e.notify(s.POI, from, StateOutside)
	case StateTriggered:
		e.complete(s)
	}
}

// Advance evaluates debounce and dwell timers at the given instant and
// returns the triggers that became due, tie-broken by ascending POI order.
// POIs beyond the first are still returned, queued behind it, never dropped.
func (e *Engine) Advance(now time.Time) []Trigger {
	var due []*Session
	for _, s := range e.sessions {
		switch s.State {
		case StateInside:
			if now.Sub(s.EnteredAt) >= e.cfg.Debounce {
				s.State = StateDwelling
				e.notify(s.POI, StateInside, StateDwelling)
			}
		}
		if s.State == StateDwelling &&
			s.POI.Trigger != tour.TriggerManual &&
			now.Sub(s.EnteredAt) >= e.profile.DwellThreshold {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].POI.Order < due[j].POI.Order })

	out := make([]Trigger, 0, len(due))
	for _, s := range due {
		if t := e.fire(s, ReasonDwell, now); t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// ForceTrigger fires a manual trigger for a POI, regardless of its region
// state. Returns nil if the POI already triggered this pass.
func (e *Engine) ForceTrigger(p *tour.POI, now time.Time) *Trigger {
	if e.done(p.ID) {
		return nil
	}
	s := e.sessions[p.ID]
	if s == nil {
		s = &Session{POI: p, State: StateOutside}
		e.sessions[p.ID] = s
	}
	if s.State == StateTriggered {
		return nil
	}
	return e.fire(s, ReasonManual, now)
}

// Complete marks a triggered POI as fully visited without waiting for a
// region exit (manual skip / tour advance).
func (e *Engine) Complete(poiID string) {
	if s := e.sessions[poiID]; s != nil {
		e.complete(s)
		return
	}
	e.visited[poiID] = struct{}{}
}

// Visited reports whether the POI finished its pass.
func (e *Engine) Visited(poiID string) bool {
	_, ok := e.visited[poiID]
	return ok
}

// State returns the current session state for a POI.
func (e *Engine) State(poiID string) State {
	if e.Visited(poiID) {
		return StateExited
	}
	if s := e.sessions[poiID]; s != nil {
		return s.State
	}
	return StateOutside
}

// Pinned lists POIs whose regions must not be evicted: those mid-dwell or
// triggered but not yet exited.
func (e *Engine) Pinned() []string {
	var out []string
	for id, s := range e.sessions {
		if s.State == StateDwelling || s.State == StateTriggered {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshots returns read-only session summaries ordered by POI order.
func (e *Engine) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, Snapshot{
			POIID:   s.POI.ID,
			Name:    s.POI.Name,
			State:   s.State,
			Reason:  s.Reason,
			Entered: s.EnteredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].POIID < out[j].POIID })
	return out
}

func (e *Engine) fire(s *Session, reason Reason, now time.Time) *Trigger {
	from := s.State
	s.State = StateTriggered
	s.TriggeredAt = now
	s.Reason = reason
	e.notify(s.POI, from, StateTriggered)
	e.logger.Info("trigger", "poi", s.POI.ID, "reason", reason)
	return &Trigger{POI: s.POI, Reason: reason, At: now}
}

func (e *Engine) complete(s *Session) {
	from := s.State
	delete(e.sessions, s.POI.ID)
	e.visited[s.POI.ID] = struct{}{}
	e.notify(s.POI, from, StateExited)
}

func (e *Engine) done(poiID string) bool {
	_, ok := e.visited[poiID]
	return ok
}

func (e *Engine) notify(p *tour.POI, from, to State) {
	if e.OnStateChange != nil && from != to {
		e.OnStateChange(p, from, to)
	}
}
