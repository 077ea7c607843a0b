package replay

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/tour"
)

var start = geo.Coordinate{Lat: 47.6062, Lon: -122.3321}

func walkingTour(n int) *tour.Tour {
	tr := &tour.Tour{ID: "replay", Title: "Replay", Profile: tour.DefaultProfile(tour.ModeWalking)}
	for i := 1; i <= n; i++ {
		tr.POIs = append(tr.POIs, tour.POI{
			ID:         fmt.Sprintf("poi-%02d", i),
			Name:       fmt.Sprintf("Stop %d", i),
			Coordinate: geo.Offset(start, float64(i)*400, 90),
			BaseRadius: 100,
			Order:      i,
			Trigger:    tour.TriggerProximity,
			Script:     "hello",
		})
	}
	tr.Normalize()
	return tr
}

// dwellTrace walks to poi-01, enters, dwells past the threshold, exits,
// then enters poi-02 and dwells again.
func dwellTrace() []Record {
	var recs []Record
	pos := start
	at := int64(0)
	for i := 0; i < 4; i++ {
		recs = append(recs, Record{AtMS: at, Type: TypePosition, Position: pos, Accuracy: 5})
		pos = geo.Offset(pos, 1.4, 90)
		at += 1000
	}
	recs = append(recs,
		Record{AtMS: at, Type: TypeRegionEntry, POI: "poi-01"},
		Record{AtMS: at + 31_000, Type: TypeTick},
		Record{AtMS: at + 40_000, Type: TypeRegionExit, POI: "poi-01"},
		Record{AtMS: at + 41_000, Type: TypeRegionEntry, POI: "poi-02"},
		Record{AtMS: at + 73_000, Type: TypeTick},
	)
	return recs
}

func TestTraceRoundTrip(t *testing.T) {
	recs := dwellTrace()

	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, recs))

	got, err := ReadTrace(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTraceRejectsBadInput(t *testing.T) {
	_, err := ReadTrace(strings.NewReader(`{"at_ms":5000,"type":"tick"}` + "\n" + `{"at_ms":1000,"type":"tick"}` + "\n"))
	assert.ErrorContains(t, err, "out of order")

	_, err = ReadTrace(strings.NewReader(`not json` + "\n"))
	assert.Error(t, err)
}

func TestRecordEventRejectsUnknownType(t *testing.T) {
	p := NewPlayer(walkingTour(1), nil, engine.Config{})
	_, err := p.Run(context.Background(), []Record{{Type: "teleport"}})
	assert.ErrorContains(t, err, "unknown record type")
}

func TestReplayEmitsRecordedTriggers(t *testing.T) {
	p := NewPlayer(walkingTour(2), nil, engine.Config{})

	out, err := p.Run(context.Background(), dwellTrace())
	require.NoError(t, err)

	assert.Equal(t, []string{"poi-01/dwell", "poi-02/dwell"}, out.Triggers)
	assert.Equal(t, "replay", out.Final.TourID)

	plays := 0
	for _, op := range out.PlaybackOps {
		if op == "play" {
			plays++
		}
	}
	assert.Equal(t, 2, plays) // start, then crossfade-in of the second POI
}

func TestReplayIsDeterministic(t *testing.T) {
	trace := dwellTrace()

	run := func() *Outcome {
		p := NewPlayer(walkingTour(2), nil, engine.Config{})
		out, err := p.Run(context.Background(), trace)
		require.NoError(t, err)
		return out
	}

	first := run()
	second := run()

	if diff := cmp.Diff(first.Triggers, second.Triggers); diff != "" {
		t.Fatalf("trigger sequences differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.PlaybackOps, second.PlaybackOps); diff != "" {
		t.Fatalf("playback command logs differ (-first +second):\n%s", diff)
	}
}
