// Package motion derives smoothed speed and a tour-mode hint from raw,
// possibly noisy position samples.
package motion

import (
	"log/slog"
	"time"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/tour"
)

// Sample is one raw position update from the platform position source.
type Sample struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Timestamp  time.Time      `json:"timestamp"` // monotonic
	Accuracy   float64        `json:"accuracy"`  // horizontal, meters
}

// Hint is the live movement classification for mixed tours.
type Hint string

const (
	HintWalking Hint = "walking"
	HintDriving Hint = "driving"
)

// RejectReason explains why a sample was not accepted.
type RejectReason string

const (
	RejectAccuracy   RejectReason = "accuracy"
	RejectOutOfOrder RejectReason = "out_of_order"
	RejectBadFix     RejectReason = "bad_fix"
)

// Config tunes the classifier. The zero value is completed by defaults().
type Config struct {
	// MaxAccuracy rejects samples with a worse horizontal accuracy (meters).
	MaxAccuracy float64

	// Window is the rolling median window over accepted speeds (3..5).
	Window int

	// DriveEnterSpeed and WalkExitSpeed are the hysteresis thresholds (m/s)
	// for reclassifying a mixed tour. Enter must exceed exit.
	DriveEnterSpeed float64
	WalkExitSpeed   float64

	// SustainWindow is how long a speed band must hold before the hint flips.
	SustainWindow time.Duration

	// SignalLossTimeout marks the speed stale when no sample arrives for
	// this long.
	SignalLossTimeout time.Duration
}

func (c *Config) defaults(profile tour.Profile) {
	if c.MaxAccuracy == 0 {
		c.MaxAccuracy = 50
	}
	if c.Window == 0 {
		c.Window = 5
	}
	if c.DriveEnterSpeed == 0 {
		c.DriveEnterSpeed = profile.DriveBySpeed
	}
	if c.WalkExitSpeed == 0 {
		c.WalkExitSpeed = c.DriveEnterSpeed * 0.5
	}
	if c.SustainWindow == 0 {
		c.SustainWindow = 20 * time.Second
	}
	if c.SignalLossTimeout == 0 {
		c.SignalLossTimeout = 30 * time.Second
	}
}

// Classifier turns raw samples into a smoothed speed and a mode hint.
// It is not goroutine-safe; the engine's event loop is its only caller.
type Classifier struct {
	cfg     Config
	profile tour.Profile
	logger  *slog.Logger

	// ring of the last Window accepted instantaneous speeds
	ring  []float64
	ringN int

	last       *Sample
	lastSpeed  float64
	haveSpeed  bool
	lastUpdate time.Time

	hint         Hint
	bandStart    time.Time // since when speed stayed in the candidate band
	bandIsDrive  bool
	haveBand     bool

	// OnReject is called for each rejected sample (reported, not retried).
	OnReject func(s Sample, reason RejectReason)
}

// New creates a classifier for the given tour profile.
func New(profile tour.Profile, cfg Config) *Classifier {
	cfg.defaults(profile)
	hint := HintWalking
	if profile.Mode == tour.ModeDriving {
		hint = HintDriving
	}
	return &Classifier{
		cfg:     cfg,
		profile: profile,
		logger:  log.Component("motion"),
		ring:    make([]float64, cfg.Window),
		hint:    hint,
	}
}

// Observe feeds one raw sample. It returns true if the sample was accepted.
func (c *Classifier) Observe(s Sample) bool {
	if !s.Coordinate.Valid() || s.Coordinate.IsZero() {
		c.reject(s, RejectBadFix)
		return false
	}
	if s.Accuracy > c.cfg.MaxAccuracy {
		c.reject(s, RejectAccuracy)
		return false
	}
	if c.last != nil && !s.Timestamp.After(c.last.Timestamp) {
		c.reject(s, RejectOutOfOrder)
		return false
	}

	if c.last != nil {
		elapsed := s.Timestamp.Sub(c.last.Timestamp).Seconds()
		raw := geo.Distance(c.last.Coordinate, s.Coordinate) / elapsed
		c.push(raw)
		c.lastSpeed = c.median()
		c.haveSpeed = true
		c.updateHint(s.Timestamp)
	}

	last := s
	c.last = &last
	c.lastUpdate = s.Timestamp
	return true
}

func (c *Classifier) reject(s Sample, reason RejectReason) {
	c.logger.Debug("sample rejected", "reason", reason, "accuracy", s.Accuracy)
	if c.OnReject != nil {
		c.OnReject(s, reason)
	}
}

// Speed returns the smoothed speed in m/s and whether it is stale at now.
// Consumers must treat a stale speed as walking-equivalent.
func (c *Classifier) Speed(now time.Time) (speed float64, stale bool) {
	if !c.haveSpeed {
		return 0, true
	}
	return c.lastSpeed, c.Stale(now)
}

// Stale reports whether no sample has been accepted within the loss timeout.
func (c *Classifier) Stale(now time.Time) bool {
	return c.lastUpdate.IsZero() || now.Sub(c.lastUpdate) > c.cfg.SignalLossTimeout
}

// LastFix returns the most recent accepted sample, or nil.
func (c *Classifier) LastFix() *Sample {
	return c.last
}

// ModeHint returns the live movement classification.
// Fixed-mode tours always report their configured mode; mixed tours
// reclassify on sustained speed with hysteresis. Stale speed reports
// walking, the conservative dwell policy.
func (c *Classifier) ModeHint(now time.Time) Hint {
	switch c.profile.Mode {
	case tour.ModeDriving:
		return HintDriving
	case tour.ModeWalking:
		return HintWalking
	}
	if c.Stale(now) {
		return HintWalking
	}
	return c.hint
}

func (c *Classifier) updateHint(now time.Time) {
	if c.profile.Mode != tour.ModeMixed {
		return
	}

	var candidate bool
	var isDrive bool
	switch {
	case c.lastSpeed >= c.cfg.DriveEnterSpeed:
		candidate, isDrive = c.hint != HintDriving, true
	case c.lastSpeed <= c.cfg.WalkExitSpeed:
		candidate, isDrive = c.hint != HintWalking, false
	default:
		// Between thresholds: inside the hysteresis band, no flip pending.
		c.haveBand = false
		return
	}
	if !candidate {
		c.haveBand = false
		return
	}

	if !c.haveBand || c.bandIsDrive != isDrive {
		c.haveBand = true
		c.bandIsDrive = isDrive
		c.bandStart = now
		return
	}
	if now.Sub(c.bandStart) >= c.cfg.SustainWindow {
		if isDrive {
			c.hint = HintDriving
		} else {
			c.hint = HintWalking
		}
		c.haveBand = false
		c.logger.Info("mode hint changed", "hint", c.hint, "speed", c.lastSpeed)
	}
}

func (c *Classifier) push(speed float64) {
	if c.ringN < len(c.ring) {
		c.ring[c.ringN] = speed
		c.ringN++
		return
	}
	copy(c.ring, c.ring[1:])
	c.ring[len(c.ring)-1] = speed
}

func (c *Classifier) median() float64 {
	n := c.ringN
	if n == 0 {
		return 0
	}
	buf := make([]float64, n)
	copy(buf, c.ring[:n])
	// insertion sort; the window is at most 5 entries
	for i := 1; i < n; i++ {
		for j := i; j > 0 && buf[j] < buf[j-1]; j-- {
			buf[j], buf[j-1] = buf[j-1], buf[j]
		}
	}
	if n%2 == 1 {
		return buf[n/2]
	}
	return (buf[n/2-1] + buf[n/2]) / 2
}
