package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/content"
)

// State is the playback session state.
type State string

const (
	StateIdle              State = "idle"
	StatePlaying           State = "playing"
	StateCrossfading       State = "crossfading"
	StatePausedInterrupted State = "paused_interrupted"
)

// Sentinel errors.
var (
	// ErrLoadFailure wraps pipeline load errors. The orchestrator never
	// retries a load; the caller decides what to do next.
	ErrLoadFailure = errors.New("playback: load failure")

	// ErrQueueFull is returned when the command queue is saturated.
	ErrQueueFull = errors.New("playback: command queue full")
)

// Session is a point-in-time view of the playback state.
type Session struct {
	State             State
	ActiveSlot        Slot
	StandbySlot       Slot
	CrossfadeProgress float64
	Current           *content.AudioDescriptor
}

// Config tunes the orchestrator.
type Config struct {
	// CrossfadeDuration is the total fade window.
	CrossfadeDuration time.Duration

	// CrossfadeSteps is how many discrete volume steps the fade takes.
	CrossfadeSteps int

	// AutoResume permits automatic resumption when a platform
	// interruption ends. When false, playback stays paused until an
	// explicit Resume.
	AutoResume bool
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.CrossfadeDuration <= 0 {
		c.CrossfadeDuration = 2 * time.Second
	}
	if c.CrossfadeSteps <= 0 {
		c.CrossfadeSteps = 8
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdCrossfade
	cmdPauseForInterruption
	cmdResumePolicy
	cmdResumeForced
	cmdStop
)

func (k cmdKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdCrossfade:
		return "crossfade"
	case cmdPauseForInterruption:
		return "pause_for_interruption"
	case cmdResumePolicy:
		return "resume_if_policy_allows"
	case cmdResumeForced:
		return "resume"
	default:
		return "stop"
	}
}

type command struct {
	kind cmdKind
	desc *content.AudioDescriptor
}

// Orchestrator owns the two pipeline slots and processes commands strictly
// one at a time from a FIFO queue. A crossfade blocks the loop for its whole
// window, so a command arriving mid-fade waits until the fade resolves and
// at no sampled instant outside the window are both slots audible.
type Orchestrator struct {
	pipeline Pipeline
	clk      clock.Clock
	cfg      Config
	logger   *slog.Logger

	cmds chan command

	// pendingPlay marks that the active slot holds content that never
	// started (swapped in while paused), so the next resume must Play it
	// rather than Resume it. Only touched from the command loop.
	pendingPlay bool

	mu      sync.Mutex
	session Session

	// OnError receives command failures (load failures in particular).
	// Called from the command loop; must not block.
	OnError func(op string, err error)

	// OnStateChange receives session snapshots after every transition.
	// Called from the command loop; must not block.
	OnStateChange func(Session)
}

// New creates an orchestrator over the given pipeline.
func New(pipeline Pipeline, clk clock.Clock, cfg Config) *Orchestrator {
	cfg.Normalize()
	return &Orchestrator{
		pipeline: pipeline,
		clk:      clk,
		cfg:      cfg,
		logger:   log.Component("playback"),
		cmds:     make(chan command, 32),
		session: Session{
			State:       StateIdle,
			ActiveSlot:  SlotA,
			StandbySlot: SlotB,
		},
	}
}

// Session returns a snapshot of the playback state.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Start begins playback of the descriptor. If something is already playing
// it behaves like CrossfadeTo.
func (o *Orchestrator) Start(desc *content.AudioDescriptor) error {
	return o.enqueue(command{kind: cmdStart, desc: desc})
}

// CrossfadeTo fades the current audio out while the descriptor fades in.
func (o *Orchestrator) CrossfadeTo(desc *content.AudioDescriptor) error {
	return o.enqueue(command{kind: cmdCrossfade, desc: desc})
}

// PauseForInterruption pauses for an external audio demand.
func (o *Orchestrator) PauseForInterruption() error {
	return o.enqueue(command{kind: cmdPauseForInterruption})
}

// ResumeIfPolicyAllows resumes after an interruption only when the
// auto-resume policy permits it. A denied resume is an expected state, not
// an error.
func (o *Orchestrator) ResumeIfPolicyAllows() error {
	return o.enqueue(command{kind: cmdResumePolicy})
}

// Resume is the explicit, user-driven resume that bypasses the policy.
func (o *Orchestrator) Resume() error {
	return o.enqueue(command{kind: cmdResumeForced})
}

// Stop releases the active slot and returns to idle.
func (o *Orchestrator) Stop() error {
	return o.enqueue(command{kind: cmdStop})
}

func (o *Orchestrator) enqueue(cmd command) error {
	select {
	case o.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes commands and platform interruptions until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.handleStop()
			return ctx.Err()
		case cmd := <-o.cmds:
			o.handle(ctx, cmd)
		case intr := <-o.pipeline.Interruptions():
			if intr.Began {
				o.handlePause()
			} else {
				o.handleResume(false)
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		o.handleStart(ctx, cmd.desc)
	case cmdCrossfade:
		o.handleCrossfade(ctx, cmd.desc)
	case cmdPauseForInterruption:
		o.handlePause()
	case cmdResumePolicy:
		o.handleResume(false)
	case cmdResumeForced:
		o.handleResume(true)
	case cmdStop:
		o.handleStop()
	}
}

func (o *Orchestrator) handleStart(ctx context.Context, desc *content.AudioDescriptor) {
	if o.Session().State != StateIdle {
		o.handleCrossfade(ctx, desc)
		return
	}

	active := o.Session().ActiveSlot
	if err := o.pipeline.Load(ctx, active, desc); err != nil {
		o.report("start", fmt.Errorf("%w: %v", ErrLoadFailure, err))
		return
	}
	o.pipeline.SetVolume(active, 1)
	if err := o.pipeline.Play(active); err != nil {
		o.report("start", err)
		o.pipeline.Release(active)
		return
	}

	o.update(func(s *Session) {
		s.State = StatePlaying
		s.Current = desc
	})
	o.logger.Info("playback started", "source", desc.SourceKind, "handle", desc.PayloadHandle)
}

func (o *Orchestrator) handleCrossfade(ctx context.Context, desc *content.AudioDescriptor) {
	sess := o.Session()
	if sess.State == StateIdle {
		o.handleStart(ctx, desc)
		return
	}
	if sess.State == StatePausedInterrupted {
		// Swap the content but stay paused; the fade would be inaudible.
		o.pipeline.Release(sess.ActiveSlot)
		o.pendingPlay = false
		if err := o.pipeline.Load(ctx, sess.ActiveSlot, desc); err != nil {
			o.report("crossfade", fmt.Errorf("%w: %v", ErrLoadFailure, err))
			o.update(func(s *Session) {
				s.State = StateIdle
				s.Current = nil
			})
			return
		}
		// The slot has never played, so the next resume must start it.
		o.pendingPlay = true
		o.update(func(s *Session) { s.Current = desc })
		return
	}

	active, standby := sess.ActiveSlot, sess.StandbySlot
	if err := o.pipeline.Load(ctx, standby, desc); err != nil {
		// Current narration keeps playing; the failure goes upward.
		o.report("crossfade", fmt.Errorf("%w: %v", ErrLoadFailure, err))
		return
	}
	o.pipeline.SetVolume(standby, 0)
	if err := o.pipeline.Play(standby); err != nil {
		o.report("crossfade", err)
		o.pipeline.Release(standby)
		return
	}

	o.update(func(s *Session) {
		s.State = StateCrossfading
		s.CrossfadeProgress = 0
	})

	steps := o.cfg.CrossfadeSteps
	stepDur := o.cfg.CrossfadeDuration / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			// Snap to the end state so exactly one slot stays audible.
			i = steps
		case <-o.clk.After(stepDur):
		}
		f := float64(i) / float64(steps)
		o.pipeline.SetVolume(standby, f)
		o.pipeline.SetVolume(active, 1-f)
		o.update(func(s *Session) { s.CrossfadeProgress = f })
		if i == steps {
			break
		}
	}

	o.pipeline.Release(active)
	o.update(func(s *Session) {
		s.State = StatePlaying
		s.ActiveSlot = standby
		s.StandbySlot = active
		s.CrossfadeProgress = 0
		s.Current = desc
	})
	o.logger.Info("crossfade complete", "source", desc.SourceKind, "active", standby)
}

func (o *Orchestrator) handlePause() {
	sess := o.Session()
	if sess.State != StatePlaying {
		o.logger.Debug("interruption ignored", "state", sess.State)
		return
	}
	if err := o.pipeline.Pause(sess.ActiveSlot); err != nil {
		o.report("pause_for_interruption", err)
		return
	}
	o.update(func(s *Session) { s.State = StatePausedInterrupted })
	o.logger.Info("paused for interruption")
}

func (o *Orchestrator) handleResume(forced bool) {
	sess := o.Session()
	if sess.State != StatePausedInterrupted {
		return
	}
	if !forced && !o.cfg.AutoResume {
		// Expected state: stay paused until an explicit resume.
		o.logger.Info("resume denied by policy")
		return
	}
	if o.pendingPlay {
		o.pipeline.SetVolume(sess.ActiveSlot, 1)
		if err := o.pipeline.Play(sess.ActiveSlot); err != nil {
			o.report("resume", err)
			return
		}
		o.pendingPlay = false
	} else if err := o.pipeline.Resume(sess.ActiveSlot); err != nil {
		o.report("resume", err)
		return
	}
	o.update(func(s *Session) { s.State = StatePlaying })
	o.logger.Info("playback resumed", "forced", forced)
}

func (o *Orchestrator) handleStop() {
	sess := o.Session()
	if sess.State == StateIdle {
		return
	}
	o.pipeline.Release(sess.ActiveSlot)
	o.pendingPlay = false
	o.update(func(s *Session) {
		s.State = StateIdle
		s.CrossfadeProgress = 0
		s.Current = nil
	})
	o.logger.Info("playback stopped")
}

// update mutates the session under lock and publishes the new snapshot.
func (o *Orchestrator) update(fn func(*Session)) {
	o.mu.Lock()
	fn(&o.session)
	snap := o.session
	o.mu.Unlock()

	if o.OnStateChange != nil {
		o.OnStateChange(snap)
	}
}

func (o *Orchestrator) report(op string, err error) {
	o.logger.Warn("command failed", "op", op, "error", err)
	if o.OnError != nil {
		o.OnError(op, err)
	}
}
