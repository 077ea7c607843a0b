package content

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/tour"
)

// Result is the terminal outcome of one resolution request. Completions are
// delivered through the resolver's result callback so the engine can marshal
// them onto its serialized queue; a cancelled request never produces one.
type Result struct {
	RequestID  string
	POIID      string
	Descriptor *AudioDescriptor // nil when Err is set
	Err        error
	Attempts   []Attempt
}

// Config tunes the resolver.
type Config struct {
	// StageTimeout bounds each stage of the chain.
	StageTimeout time.Duration

	// LiveAttempts caps retries of the live stage (transient failures only).
	LiveAttempts int

	// BackoffBase and BackoffMax shape the capped exponential backoff
	// between live attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// LiveRate throttles live-generation calls. Zero disables limiting.
	LiveRate  rate.Limit
	LiveBurst int
}

func (c *Config) defaults() {
	if c.StageTimeout == 0 {
		c.StageTimeout = 15 * time.Second
	}
	if c.LiveAttempts == 0 {
		c.LiveAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 5 * time.Second
	}
}

// Resolver runs the fallback chain with at most one in-flight request per
// POI. Issuing a new request for a POI cancels the outstanding one; the
// cancelled task checks for cancellation before emitting and its late
// completion is discarded.
type Resolver struct {
	cfg     Config
	sources []Source
	clk     clock.Clock
	logger  *slog.Logger
	limiter *rate.Limiter

	onResult func(Result)

	mu       sync.Mutex
	inflight map[string]*request
}

type request struct {
	id     string
	cancel context.CancelFunc
}

// NewResolver builds a resolver over the chain in priority order.
// onResult is invoked exactly once per non-cancelled request, from the
// request's own goroutine.
func NewResolver(clk clock.Clock, cfg Config, onResult func(Result), sources ...Source) *Resolver {
	cfg.defaults()
	var limiter *rate.Limiter
	if cfg.LiveRate > 0 {
		burst := cfg.LiveBurst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.LiveRate, burst)
	}
	return &Resolver{
		cfg:      cfg,
		sources:  sources,
		clk:      clk,
		logger:   log.Component("content.resolver"),
		limiter:  limiter,
		onResult: onResult,
		inflight: make(map[string]*request),
	}
}

// Request starts resolution for a POI, cancelling any outstanding request
// for the same POI first. It returns the new request id.
func (r *Resolver) Request(ctx context.Context, p *tour.POI) string {
	ctx, cancel := context.WithCancel(ctx)
	req := &request{id: uuid.NewString(), cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.inflight[p.ID]; ok {
		prev.cancel()
	}
	r.inflight[p.ID] = req
	r.mu.Unlock()

	go r.run(ctx, req, p)
	return req.id
}

// Cancel aborts the outstanding request for a POI, if any.
func (r *Resolver) Cancel(poiID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.inflight[poiID]; ok {
		req.cancel()
		delete(r.inflight, poiID)
	}
}

// CancelAll aborts every outstanding request (manual jump-ahead, tour change).
func (r *Resolver) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, req := range r.inflight {
		req.cancel()
		delete(r.inflight, id)
	}
}

// InFlight returns the POI ids with an unresolved request, sorted.
func (r *Resolver) InFlight() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.inflight))
	for id := range r.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) run(ctx context.Context, req *request, p *tour.POI) {
	var attempts []Attempt

	for _, src := range r.sources {
		if ctx.Err() != nil {
			r.discard(req, p.ID)
			return
		}
		desc, stageAttempts := r.runStage(ctx, src, p)
		attempts = append(attempts, stageAttempts...)
		if desc != nil {
			if len(attempts) > 0 {
				r.logger.Info("fallback stage succeeded",
					"poi", p.ID,
					"kind", src.Kind(),
					"failed_stages", len(attempts),
				)
			}
			r.emit(ctx, req, Result{
				RequestID:  req.id,
				POIID:      p.ID,
				Descriptor: desc,
				Attempts:   attempts,
			})
			return
		}
	}

	r.emit(ctx, req, Result{
		RequestID: req.id,
		POIID:     p.ID,
		Err:       &UnavailableError{POIID: p.ID, Attempts: attempts},
		Attempts:  attempts,
	})
}

// runStage tries one source, retrying transient live failures with capped
// exponential backoff. It returns the descriptor on success, or the failed
// attempts.
func (r *Resolver) runStage(ctx context.Context, src Source, p *tour.POI) (*AudioDescriptor, []Attempt) {
	maxAttempts := 1
	if src.Kind() == KindLive {
		maxAttempts = r.cfg.LiveAttempts
	}

	var attempts []Attempt
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !r.backoff(ctx, attempt) {
				return nil, attempts
			}
		}
		if src.Kind() == KindLive && r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, attempts
			}
		}

		start := r.clk.Now()
		desc, err := r.resolveOnce(ctx, src, p)
		if err == nil {
			return desc, attempts
		}
		attempts = append(attempts, Attempt{
			Kind:    src.Kind(),
			Error:   err.Error(),
			Elapsed: r.clk.Now().Sub(start),
		})
		if ctx.Err() != nil {
			return nil, attempts
		}
		if !IsTransient(err) {
			// Non-transient failures fall through to the next stage
			// immediately.
			r.logger.Warn("stage failed", "poi", p.ID, "kind", src.Kind(), "error", err)
			return nil, attempts
		}
		r.logger.Warn("stage failed, retrying", "poi", p.ID, "kind", src.Kind(), "attempt", attempt+1, "error", err)
	}
	return nil, attempts
}

// resolveOnce applies the per-stage timeout on the engine clock so replayed
// traces resolve identically.
func (r *Resolver) resolveOnce(ctx context.Context, src Source, p *tour.POI) (*AudioDescriptor, error) {
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.clk.After(r.cfg.StageTimeout):
			cancel()
		case <-stageCtx.Done():
		}
	}()
	return src.Resolve(stageCtx, p)
}

func (r *Resolver) backoff(ctx context.Context, attempt int) bool {
	d := r.cfg.BackoffBase << (attempt - 1)
	if d > r.cfg.BackoffMax {
		d = r.cfg.BackoffMax
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.clk.After(d):
		return true
	}
}

// emit delivers a result unless the request was cancelled or superseded.
func (r *Resolver) emit(ctx context.Context, req *request, res Result) {
	r.mu.Lock()
	current, ok := r.inflight[res.POIID]
	if ctx.Err() != nil || !ok || current.id != req.id {
		r.mu.Unlock()
		r.logger.Debug("late completion discarded", "poi", res.POIID, "request", req.id)
		return
	}
	delete(r.inflight, res.POIID)
	r.mu.Unlock()

	r.onResult(res)
}

func (r *Resolver) discard(req *request, poiID string) {
	r.mu.Lock()
	if current, ok := r.inflight[poiID]; ok && current.id == req.id {
		delete(r.inflight, poiID)
	}
	r.mu.Unlock()
}
