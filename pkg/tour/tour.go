// Package tour defines the tour model: points of interest, the tour profile,
// and loading of tour definitions from YAML files.
package tour

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/waytale/waytale/pkg/geo"
)

// Mode describes how the user is expected to move through a tour.
type Mode string

const (
	ModeWalking Mode = "walking"
	ModeDriving Mode = "driving"
	ModeMixed   Mode = "mixed"
)

// TriggerKind controls how a POI's narration is triggered.
type TriggerKind string

const (
	// TriggerProximity fires automatically when the visit conditions are met.
	TriggerProximity TriggerKind = "proximity"
	// TriggerManual fires only through an explicit user command.
	TriggerManual TriggerKind = "manual"
)

// Sentinel validation errors.
var (
	ErrNoPOIs        = errors.New("tour: no points of interest")
	ErrDuplicateID   = errors.New("tour: duplicate poi id")
	ErrBadCoordinate = errors.New("tour: coordinate out of range")
)

// POI is a single point of interest within a tour.
// POIs are immutable once the tour is loaded; the engine references
// them but never mutates them.
type POI struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Coordinate geo.Coordinate `yaml:"coordinate"`

	// BaseRadius is the proximity radius in meters before speed scaling.
	BaseRadius float64 `yaml:"base_radius"`

	// Order is the sequence index within the tour, used as a tie-break
	// when several POIs become triggerable in the same evaluation tick.
	Order int `yaml:"order"`

	Trigger TriggerKind `yaml:"trigger,omitempty"`

	// Script is the narration prompt/text handed to the generation backend.
	Script string `yaml:"script,omitempty"`

	// AssetPath names the bundled fallback audio, relative to the asset dir.
	AssetPath string `yaml:"asset,omitempty"`
}

// Profile holds the motion- and trigger-tuning parameters for a tour.
// All values are configuration; the zero value is completed by Normalize.
type Profile struct {
	Mode Mode `yaml:"mode"`

	// DwellThreshold is the continuous time inside a region before a
	// standard trigger fires. Defaults depend on Mode.
	DwellThreshold time.Duration `yaml:"dwell_threshold,omitempty"`

	// DriveBySpeed is the entry speed (m/s) at or above which the
	// drive-by trigger rule applies.
	DriveBySpeed float64 `yaml:"drive_by_speed,omitempty"`

	// RadiusScale multiplies current speed into the effective radius.
	RadiusScale float64 `yaml:"radius_scale,omitempty"`

	// RadiusMin and RadiusMax clamp the effective region radius (meters).
	RadiusMin float64 `yaml:"radius_min,omitempty"`
	RadiusMax float64 `yaml:"radius_max,omitempty"`
}

// Mode-dependent dwell defaults.
const (
	dwellWalking = 30 * time.Second
	dwellDriving = 5 * time.Second
	dwellMixed   = 15 * time.Second
)

// DefaultProfile returns the tuned profile for a mode.
func DefaultProfile(mode Mode) Profile {
	p := Profile{Mode: mode}
	p.Normalize()
	return p
}

// Normalize fills unset fields with mode-appropriate defaults.
func (p *Profile) Normalize() {
	if p.Mode == "" {
		p.Mode = ModeWalking
	}
	if p.DwellThreshold == 0 {
		switch p.Mode {
		case ModeDriving:
			p.DwellThreshold = dwellDriving
		case ModeMixed:
			p.DwellThreshold = dwellMixed
		default:
			p.DwellThreshold = dwellWalking
		}
	}
	if p.DriveBySpeed == 0 {
		p.DriveBySpeed = 8.0 // ~29 km/h, clearly faster than walking
	}
	if p.RadiusScale == 0 {
		p.RadiusScale = 30.0 // seconds of lead time bought per m/s
	}
	if p.RadiusMin == 0 {
		p.RadiusMin = 75
	}
	if p.RadiusMax == 0 {
		p.RadiusMax = 600
	}
}

// Tour is an ordered set of POIs plus the profile controlling triggers.
// Replaced wholesale when the active tour changes.
type Tour struct {
	ID      string  `yaml:"id"`
	Title   string  `yaml:"title"`
	Profile Profile `yaml:"profile"`
	POIs    []POI   `yaml:"pois"`
}

// Validate checks structural integrity of a loaded tour.
func (t *Tour) Validate() error {
	if len(t.POIs) == 0 {
		return ErrNoPOIs
	}
	seen := make(map[string]struct{}, len(t.POIs))
	for i := range t.POIs {
		p := &t.POIs[i]
		if p.ID == "" {
			return fmt.Errorf("tour: poi %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.Coordinate.Valid() || p.Coordinate.IsZero() {
			return fmt.Errorf("%w: poi %s", ErrBadCoordinate, p.ID)
		}
		if p.BaseRadius <= 0 {
			return fmt.Errorf("tour: poi %s has non-positive radius", p.ID)
		}
		if p.Trigger == "" {
			p.Trigger = TriggerProximity
		}
	}
	return nil
}

// Normalize validates the tour, fills profile defaults and sorts POIs by Order.
func (t *Tour) Normalize() error {
	t.Profile.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	sort.SliceStable(t.POIs, func(i, j int) bool {
		return t.POIs[i].Order < t.POIs[j].Order
	})
	return nil
}

// Get returns the POI with the given id, or nil.
func (t *Tour) Get(id string) *POI {
	for i := range t.POIs {
		if t.POIs[i].ID == id {
			return &t.POIs[i]
		}
	}
	return nil
}
