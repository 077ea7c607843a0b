// Package engine runs the serialized event loop that turns position
// streams into narration. One goroutine owns all visit, region and playback
// state; every other component publishes typed events into its queue.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/geofence"
	"github.com/waytale/waytale/pkg/metrics"
	"github.com/waytale/waytale/pkg/motion"
	"github.com/waytale/waytale/pkg/playback"
	"github.com/waytale/waytale/pkg/tour"
	"github.com/waytale/waytale/pkg/visit"
)

// Config aggregates the tuning of every owned component.
type Config struct {
	Motion   motion.Config
	Geofence geofence.Config
	Visit    visit.Config
	Resolver content.Config
	Playback playback.Config

	// TickInterval drives dwell maturation and staleness checks.
	TickInterval time.Duration
}

func (c *Config) defaults() {
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
}

// Snapshot is the read-only view served to presentation layers.
type Snapshot struct {
	TourID     string           `json:"tour_id"`
	Title      string           `json:"title"`
	Mode       tour.Mode        `json:"mode"`
	Hint       motion.Hint      `json:"hint"`
	Speed      float64          `json:"speed"`
	SpeedStale bool             `json:"speed_stale"`
	Monitored  []string         `json:"monitored"`
	Visits     []visit.Snapshot `json:"visits"`
	Playback   playback.Session `json:"-"`
	PlayingPOI string           `json:"playing_poi,omitempty"`
}

// Engine owns the serialized queue and every piece of tour state behind it.
type Engine struct {
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger

	tourMu sync.RWMutex
	tr     *tour.Tour

	monitor    geofence.Monitor
	classifier *motion.Classifier
	scheduler  *geofence.Scheduler
	visits     *visit.Engine
	resolver   *content.Resolver
	orch       *playback.Orchestrator

	events chan Event

	// loop-owned state
	ctx          context.Context
	playingPOI   string
	wasStale     bool
	resolveStart map[string]time.Time

	snapMu sync.Mutex
	snap   Snapshot

	// OnTrigger observes every emitted trigger (replay capture, tests).
	// Called from the loop; must not block.
	OnTrigger func(visit.Trigger)

	// OnSnapshot receives the snapshot after every processed event.
	// Called from the loop; must not block.
	OnSnapshot func(Snapshot)
}

// New assembles an engine over platform region monitoring, an audio
// pipeline and a content source chain.
func New(t *tour.Tour, monitor geofence.Monitor, pipeline playback.Pipeline, sources []content.Source, clk clock.Clock, cfg Config) *Engine {
	cfg.defaults()

	e := &Engine{
		cfg:          cfg,
		clk:          clk,
		logger:       log.Component("engine"),
		tr:           t,
		events:       make(chan Event, 1024),
		resolveStart: make(map[string]time.Time),
	}

	e.classifier = motion.New(t.Profile, cfg.Motion)
	e.classifier.OnReject = func(s motion.Sample, reason motion.RejectReason) {
		metrics.SamplesRejectedTotal.WithLabelValues(string(reason)).Inc()
		e.logger.Debug("sample rejected", "reason", reason, "accuracy", s.Accuracy)
	}

	e.monitor = monitor
	e.scheduler = geofence.NewScheduler(instrument(monitor), cfg.Geofence)
	e.scheduler.SetTour(t)

	e.visits = visit.NewEngine(t.Profile, cfg.Visit)
	e.visits.OnStateChange = e.onVisitState

	e.resolver = content.NewResolver(clk, cfg.Resolver, e.onResolved, sources...)

	e.orch = playback.New(pipeline, clk, cfg.Playback)
	e.orch.OnError = func(op string, err error) {
		e.logger.Warn("playback command failed", "op", op, "error", err)
	}
	e.orch.OnStateChange = func(s playback.Session) {
		e.snapMu.Lock()
		e.snap.Playback = s
		e.snapMu.Unlock()
	}

	return e
}

// Publish adds an event to the serialized queue, blocking if it is full.
func (e *Engine) Publish(ev Event) {
	e.events <- ev
}

// Snapshot returns the most recent published state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	return e.snap
}

// Tour returns the active tour.
func (e *Engine) Tour() *tour.Tour {
	e.tourMu.RLock()
	defer e.tourMu.RUnlock()
	return e.tr
}

// Playback returns the current playback session view.
func (e *Engine) Playback() playback.Session {
	return e.orch.Session()
}

// Run processes events until ctx is cancelled. No event-handling error
// terminates the loop; the worst case for any POI is that no audio plays.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	e.ctx = ctx

	g.Go(func() error { return e.orch.Run(ctx) })
	g.Go(func() error { return e.forwardRegionEvents(ctx) })
	g.Go(func() error { return e.tickLoop(ctx) })
	g.Go(func() error { return e.loop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.resolver.CancelAll()
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
			e.publishSnapshot()
		}
	}
}

func (e *Engine) forwardRegionEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.monitor.Events():
			switch ev.Kind {
			case geofence.EventEntry:
				e.Publish(RegionEntered{POIID: ev.POIID, At: ev.At})
			case geofence.EventExit:
				e.Publish(RegionExited{POIID: ev.POIID, At: ev.At})
			}
		}
	}
}

func (e *Engine) tickLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clk.After(e.cfg.TickInterval):
			e.Publish(Tick{})
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	now := e.clk.Now()

	switch ev := ev.(type) {
	case PositionUpdated:
		e.handlePosition(ev.Sample, now)
	case SignalLost:
		e.noteSignal(true)
	case RegionEntered:
		e.handleEntry(ev.POIID, now)
	case RegionExited:
		e.visits.HandleExit(ev.POIID, now)
	case ContentResult:
		e.handleResult(ev.Result, now)
	case ManualTrigger:
		e.handleManual(ev.POIID, now)
	case Skip:
		e.handleSkip(now)
	case Resume:
		e.playbackCommand("resume", e.orch.Resume())
	case InterruptionBegan:
		e.playbackCommand("pause_for_interruption", e.orch.PauseForInterruption())
	case InterruptionEnded:
		e.playbackCommand("resume_if_policy_allows", e.orch.ResumeIfPolicyAllows())
	case TourReplaced:
		e.handleTourReplaced(ev.Tour)
	case Tick:
		e.checkSignal(now)
		e.dispatch(e.visits.Advance(now))
	case Barrier:
		close(ev.Done)
	}
}

func (e *Engine) handlePosition(s motion.Sample, now time.Time) {
	accepted := e.classifier.Observe(s)
	e.checkSignal(now)
	if !accepted {
		return
	}

	speed, _ := e.classifier.Speed(now)
	e.scheduler.Update(s.Coordinate, speed, now)
	metrics.RegionsMonitored.Set(float64(len(e.scheduler.Monitored())))

	e.markApproaching(s.Coordinate)
	e.dispatch(e.visits.Advance(now))
}

// markApproaching flags POIs inside the extended ranking radius but not yet
// inside their region boundary. Informational only.
func (e *Engine) markApproaching(pos geo.Coordinate) {
	for _, r := range e.scheduler.Monitored() {
		d := geo.Distance(pos, r.Center)
		if d > r.Radius && d <= 2*r.Radius {
			if p := e.Tour().Get(r.POIID); p != nil {
				e.visits.MarkApproaching(p)
			}
		}
	}
}

func (e *Engine) handleEntry(poiID string, now time.Time) {
	p := e.Tour().Get(poiID)
	if p == nil {
		e.logger.Warn("entry for unknown poi", "poi", poiID)
		return
	}

	radius := p.BaseRadius
	for _, r := range e.scheduler.Monitored() {
		if r.POIID == poiID {
			radius = r.Radius
			break
		}
	}

	speed, stale := e.classifier.Speed(now)
	if trig := e.visits.HandleEntry(p, radius, speed, stale, now); trig != nil {
		e.fire(*trig)
	}
}

func (e *Engine) handleResult(res content.Result, now time.Time) {
	for _, a := range res.Attempts {
		if a.Error != "" {
			metrics.ResolveStageTotal.WithLabelValues(string(a.Kind), "fail").Inc()
		}
	}

	if res.Err != nil {
		if errors.Is(res.Err, content.ErrUnavailable) {
			metrics.ContentUnavailableTotal.Inc()
			e.logger.Warn("content unavailable, tour continues", "poi", res.POIID, "attempts", len(res.Attempts))
		} else {
			e.logger.Warn("resolution failed", "poi", res.POIID, "error", res.Err)
		}
		delete(e.resolveStart, res.POIID)
		return
	}

	metrics.ResolveStageTotal.WithLabelValues(string(res.Descriptor.SourceKind), "ok").Inc()
	if start, ok := e.resolveStart[res.POIID]; ok {
		metrics.ResolveDuration.WithLabelValues(string(res.Descriptor.SourceKind)).
			Observe(now.Sub(start).Seconds())
		delete(e.resolveStart, res.POIID)
	}

	if e.playingPOI == "" && e.orch.Session().State == playback.StateIdle {
		e.playbackCommand("start", e.orch.Start(res.Descriptor))
	} else {
		e.playbackCommand("crossfade", e.orch.CrossfadeTo(res.Descriptor))
	}
	e.playingPOI = res.POIID
}

func (e *Engine) handleManual(poiID string, now time.Time) {
	p := e.Tour().Get(poiID)
	if p == nil {
		e.logger.Warn("manual trigger for unknown poi", "poi", poiID)
		return
	}

	// A jump-ahead abandons every outstanding resolution; late completions
	// from cancelled requests never reach the queue.
	e.resolver.CancelAll()

	if trig := e.visits.ForceTrigger(p, now); trig != nil {
		e.fire(*trig)
	} else {
		e.logger.Info("manual trigger ignored", "poi", poiID, "state", e.visits.State(poiID))
	}
}

func (e *Engine) handleSkip(now time.Time) {
	e.resolver.CancelAll()
	if e.playingPOI != "" {
		e.visits.Complete(e.playingPOI)
		e.scheduler.MarkVisited(e.playingPOI, now)
		e.playingPOI = ""
	}
	e.playbackCommand("stop", e.orch.Stop())
}

func (e *Engine) handleTourReplaced(t *tour.Tour) {
	e.logger.Info("tour replaced", "tour", t.ID, "pois", len(t.POIs))

	e.resolver.CancelAll()
	e.playbackCommand("stop", e.orch.Stop())
	e.playingPOI = ""
	e.wasStale = false
	e.resolveStart = make(map[string]time.Time)

	e.tourMu.Lock()
	e.tr = t
	e.tourMu.Unlock()

	e.classifier = motion.New(t.Profile, e.cfg.Motion)
	e.classifier.OnReject = func(s motion.Sample, reason motion.RejectReason) {
		metrics.SamplesRejectedTotal.WithLabelValues(string(reason)).Inc()
	}
	e.visits.Reset(t.Profile)
	e.scheduler.SetTour(t)
}

// playbackCommand records a playback command, surfacing enqueue failures.
// A saturated orchestrator queue drops the command; that must be visible.
func (e *Engine) playbackCommand(op string, err error) {
	metrics.PlaybackCommandsTotal.WithLabelValues(op).Inc()
	if err != nil {
		e.logger.Warn("playback command rejected", "op", op, "error", err)
	}
}

func (e *Engine) dispatch(trigs []visit.Trigger) {
	for _, t := range trigs {
		e.fire(t)
	}
}

func (e *Engine) fire(trig visit.Trigger) {
	metrics.TriggersTotal.WithLabelValues(string(trig.Reason)).Inc()
	e.logger.Info("trigger", "poi", trig.POI.ID, "reason", trig.Reason)

	if e.OnTrigger != nil {
		e.OnTrigger(trig)
	}

	e.resolveStart[trig.POI.ID] = e.clk.Now()
	e.resolver.Request(e.ctx, trig.POI)
}

// onVisitState keeps the scheduler aligned with visit progress: dwelling
// and pending-exit POIs are pinned so re-evaluation cannot starve a trigger
// mid-dwell, and an exited POI frees its slot.
func (e *Engine) onVisitState(p *tour.POI, from, to visit.State) {
	switch to {
	case visit.StateDwelling, visit.StateTriggered:
		e.scheduler.Pin(p.ID)
	case visit.StateExited:
		e.scheduler.Unpin(p.ID)
		e.scheduler.MarkVisited(p.ID, e.clk.Now())
		if e.playingPOI == p.ID {
			// Narration keeps playing past the boundary; only the
			// bookkeeping advances.
			e.logger.Debug("exited while narrating", "poi", p.ID)
		}
	case visit.StateOutside:
		e.scheduler.Unpin(p.ID)
	}
}

func (e *Engine) onResolved(res content.Result) {
	e.Publish(ContentResult{Result: res})
}

func (e *Engine) checkSignal(now time.Time) {
	e.noteSignal(e.classifier.Stale(now))
}

func (e *Engine) noteSignal(stale bool) {
	if stale && !e.wasStale {
		e.wasStale = true
		metrics.SignalLossTotal.Inc()
		e.logger.Warn("position signal lost, assuming walking pace")
	} else if !stale && e.wasStale {
		e.wasStale = false
		e.logger.Info("position signal recovered")
	}
}

func (e *Engine) publishSnapshot() {
	now := e.clk.Now()
	t := e.Tour()

	monitored := e.scheduler.Monitored()
	ids := make([]string, len(monitored))
	for i, r := range monitored {
		ids[i] = r.POIID
	}

	speed, stale := e.classifier.Speed(now)
	snap := Snapshot{
		TourID:     t.ID,
		Title:      t.Title,
		Mode:       t.Profile.Mode,
		Hint:       e.classifier.ModeHint(now),
		Speed:      speed,
		SpeedStale: stale,
		Monitored:  ids,
		Visits:     e.visits.Snapshots(),
		Playback:   e.orch.Session(),
		PlayingPOI: e.playingPOI,
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()

	if e.OnSnapshot != nil {
		e.OnSnapshot(snap)
	}
}

// instrumented wraps a Monitor with churn metrics.
type instrumented struct {
	geofence.Monitor
}

func instrument(m geofence.Monitor) geofence.Monitor {
	return &instrumented{Monitor: m}
}

func (m *instrumented) Register(r geofence.Region) error {
	err := m.Monitor.Register(r)
	if err == nil {
		metrics.RegionChurnTotal.WithLabelValues("register").Inc()
	}
	return err
}

func (m *instrumented) Deregister(poiID string) error {
	err := m.Monitor.Deregister(poiID)
	if err == nil {
		metrics.RegionChurnTotal.WithLabelValues("deregister").Inc()
	}
	return err
}
