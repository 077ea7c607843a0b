// Package replay records and replays engine event traces. A trace is a
// JSON-lines file of timestamped records; replaying one against a fresh
// engine on a mock clock reproduces the exact trigger and playback command
// sequence, which is how field recordings become regression tests.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/motion"
)

// Record types.
const (
	TypePosition       = "position"
	TypeSignalLost     = "signal_lost"
	TypeRegionEntry    = "region_entry"
	TypeRegionExit     = "region_exit"
	TypeManual         = "manual"
	TypeSkip           = "skip"
	TypeResume         = "resume"
	TypeInterruptBegan = "interruption_began"
	TypeInterruptEnded = "interruption_ended"
	TypeTick           = "tick"
)

// Record is one trace line. AtMS is the offset from trace start on the
// logical clock.
type Record struct {
	AtMS     int64          `json:"at_ms"`
	Type     string         `json:"type"`
	POI      string         `json:"poi,omitempty"`
	Position geo.Coordinate `json:"position,omitempty"`
	Accuracy float64        `json:"accuracy,omitempty"`
}

// Event converts a record into the engine event it represents. The start
// time anchors sample timestamps on the replay clock.
func (r Record) Event(start time.Time) (engine.Event, error) {
	at := start.Add(time.Duration(r.AtMS) * time.Millisecond)
	switch r.Type {
	case TypePosition:
		return engine.PositionUpdated{Sample: motion.Sample{
			Coordinate: r.Position,
			Timestamp:  at,
			Accuracy:   r.Accuracy,
		}}, nil
	case TypeSignalLost:
		return engine.SignalLost{At: at}, nil
	case TypeRegionEntry:
		return engine.RegionEntered{POIID: r.POI, At: at}, nil
	case TypeRegionExit:
		return engine.RegionExited{POIID: r.POI, At: at}, nil
	case TypeManual:
		return engine.ManualTrigger{POIID: r.POI}, nil
	case TypeSkip:
		return engine.Skip{}, nil
	case TypeResume:
		return engine.Resume{}, nil
	case TypeInterruptBegan:
		return engine.InterruptionBegan{}, nil
	case TypeInterruptEnded:
		return engine.InterruptionEnded{}, nil
	case TypeTick:
		return engine.Tick{}, nil
	default:
		return nil, fmt.Errorf("replay: unknown record type %q", r.Type)
	}
}

// ReadTrace parses a JSON-lines trace. Blank lines are skipped; records
// must be in non-decreasing AtMS order.
func ReadTrace(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if len(out) > 0 && rec.AtMS < out[len(out)-1].AtMS {
			return nil, fmt.Errorf("replay: line %d: records out of order", line)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read trace: %w", err)
	}
	return out, nil
}

// WriteTrace writes records as JSON lines.
func WriteTrace(w io.Writer, recs []Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("replay: write trace: %w", err)
		}
	}
	return nil
}
