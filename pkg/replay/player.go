package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/geofence"
	"github.com/waytale/waytale/pkg/playback"
	"github.com/waytale/waytale/pkg/tour"
	"github.com/waytale/waytale/pkg/visit"
)

// Outcome is what a replayed trace produced.
type Outcome struct {
	// Triggers is "poiID/reason" in emission order.
	Triggers []string

	// PlaybackOps is the pipeline call log ("load", "play", ...).
	PlaybackOps []string

	// Final is the snapshot after the last record settled.
	Final engine.Snapshot
}

// Player replays a trace against a fresh engine on a mock clock. Region
// events are published directly onto the queue (not through a monitor), so
// the replayed ordering is exactly the recorded ordering.
type Player struct {
	tour    *tour.Tour
	sources []content.Source
	cfg     engine.Config
}

// NewPlayer prepares a replay for the given tour and content chain. A nil
// sources slice gets an always-succeeding mock chain, which is enough for
// trigger-sequence analysis.
func NewPlayer(t *tour.Tour, sources []content.Source, cfg engine.Config) *Player {
	if sources == nil {
		sources = []content.Source{
			content.NewMockSource(content.KindLive),
			content.NewMockSource(content.KindLocal),
		}
	}
	return &Player{tour: t, sources: sources, cfg: cfg}
}

// Run feeds the trace through a fresh engine and returns the outcome.
func (p *Player) Run(ctx context.Context, trace []Record) (*Outcome, error) {
	clk := clock.NewMock()
	mon := geofence.NewMock(0)
	pipe := playback.NewMockPipeline()

	eng := engine.New(p.tour, mon, pipe, p.sources, clk, p.cfg)

	out := &Outcome{}
	eng.OnTrigger = func(trig visit.Trigger) {
		out.Triggers = append(out.Triggers, trig.POI.ID+"/"+string(trig.Reason))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()

	start := clk.Now()
	elapsed := int64(0)
	for i, rec := range trace {
		if d := rec.AtMS - elapsed; d > 0 {
			clk.Advance(time.Duration(d) * time.Millisecond)
			elapsed = rec.AtMS
		}

		ev, err := rec.Event(start)
		if err != nil {
			return nil, fmt.Errorf("replay: record %d: %w", i, err)
		}
		eng.Publish(ev)
		if err := p.barrier(ctx, eng); err != nil {
			return nil, err
		}
	}

	p.settle(ctx, eng, clk)

	out.Final = eng.Snapshot()
	out.PlaybackOps = pipe.Ops()

	cancel()
	<-done
	return out, nil
}

// barrier waits until every queued event has been consumed.
func (p *Player) barrier(ctx context.Context, eng *engine.Engine) error {
	b := engine.Barrier{Done: make(chan struct{})}
	eng.Publish(b)
	select {
	case <-b.Done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle advances the clock past any pending resolution backoffs and
// crossfade windows so the command log is complete.
func (p *Player) settle(ctx context.Context, eng *engine.Engine, clk *clock.Mock) {
	step := p.cfg.Playback.CrossfadeDuration
	if step <= 0 {
		step = 2 * time.Second
	}
	for i := 0; i < 20; i++ {
		clk.Advance(step)
		if err := p.barrier(ctx, eng); err != nil {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}
