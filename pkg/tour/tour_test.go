package tour_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/tour"
)

const sampleTour = `
id: ring-walk
title: Ringstrasse Walk
profile:
  mode: walking
pois:
  - id: opera
    name: State Opera
    coordinate: {lat: 48.2027, lon: 16.3690}
    base_radius: 100
    order: 2
    script: "The opera house opened in 1869."
  - id: hofburg
    name: Hofburg
    coordinate: {lat: 48.2066, lon: 16.3654}
    base_radius: 120
    order: 1
    asset: hofburg.opus
`

func TestParse(t *testing.T) {
	tr, err := tour.Parse(strings.NewReader(sampleTour))
	require.NoError(t, err)

	assert.Equal(t, "ring-walk", tr.ID)
	require.Len(t, tr.POIs, 2)
	// Normalize sorts by order.
	assert.Equal(t, "hofburg", tr.POIs[0].ID)
	assert.Equal(t, "opera", tr.POIs[1].ID)
	assert.Equal(t, tour.TriggerProximity, tr.POIs[0].Trigger)
}

func TestProfileDefaults(t *testing.T) {
	tests := []struct {
		mode  tour.Mode
		dwell time.Duration
	}{
		{tour.ModeWalking, 30 * time.Second},
		{tour.ModeDriving, 5 * time.Second},
		{tour.ModeMixed, 15 * time.Second},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			p := tour.DefaultProfile(tt.mode)
			assert.Equal(t, tt.dwell, p.DwellThreshold)
			assert.Equal(t, 75.0, p.RadiusMin)
			assert.Equal(t, 600.0, p.RadiusMax)
			assert.Positive(t, p.DriveBySpeed)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("rejects duplicate ids", func(t *testing.T) {
		dup := strings.Replace(sampleTour, "id: hofburg", "id: opera", 1)
		_, err := tour.Parse(strings.NewReader(dup))
		assert.ErrorIs(t, err, tour.ErrDuplicateID)
	})

	t.Run("rejects empty tour", func(t *testing.T) {
		_, err := tour.Parse(strings.NewReader("id: empty\npois: []\n"))
		assert.ErrorIs(t, err, tour.ErrNoPOIs)
	})

	t.Run("rejects zero coordinates", func(t *testing.T) {
		bad := strings.Replace(sampleTour, "{lat: 48.2027, lon: 16.3690}", "{lat: 0, lon: 0}", 1)
		_, err := tour.Parse(strings.NewReader(bad))
		assert.ErrorIs(t, err, tour.ErrBadCoordinate)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := tour.Parse(strings.NewReader("id: x\nbogus: true\npois: []\n"))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tour.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTour), 0o644))

	tr, err := tour.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Ringstrasse Walk", tr.Title)
	assert.NotNil(t, tr.Get("opera"))
	assert.Nil(t, tr.Get("missing"))
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tour.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTour), 0o644))

	w, err := tour.Watch(path)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Invalid write is skipped.
	require.NoError(t, os.WriteFile(path, []byte("pois: []\n"), 0o644))
	// Valid write is delivered.
	updated := strings.Replace(sampleTour, "Ringstrasse Walk", "Updated Walk", 1)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case tr := <-w.Updates():
		assert.Equal(t, "Updated Walk", tr.Title)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
