package bundled_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/content/bundled"
	"github.com/waytale/waytale/pkg/tour"
)

func TestResolveAsset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hofburg.mp3"), []byte("mp3 bytes"), 0o644))

	s := bundled.NewStore(dir)
	assert.Equal(t, content.KindLocal, s.Kind())

	desc, err := s.Resolve(context.Background(), &tour.POI{
		ID:        "hofburg",
		AssetPath: "hofburg.mp3",
		Script:    "transcript",
	})
	require.NoError(t, err)
	assert.Equal(t, content.KindLocal, desc.SourceKind)
	assert.Equal(t, filepath.Join(dir, "hofburg.mp3"), desc.PayloadHandle)
	assert.Equal(t, "transcript", desc.Transcript)
}

func TestNoAsset(t *testing.T) {
	s := bundled.NewStore(t.TempDir())

	t.Run("poi without asset", func(t *testing.T) {
		_, err := s.Resolve(context.Background(), &tour.POI{ID: "x"})
		assert.ErrorIs(t, err, content.ErrNoAsset)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := s.Resolve(context.Background(), &tour.POI{ID: "x", AssetPath: "gone.mp3"})
		assert.ErrorIs(t, err, content.ErrNoAsset)
	})
}

func TestAssetPathTraversalRejected(t *testing.T) {
	s := bundled.NewStore(t.TempDir())
	_, err := s.Resolve(context.Background(), &tour.POI{ID: "x", AssetPath: "../../etc/passwd"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, content.ErrNoAsset)
}

func TestBrokenOpusProbeIsBestEffort(t *testing.T) {
	dir := t.TempDir()
	// Not a real opus file; the probe fails but resolution still succeeds
	// without a duration hint.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.opus"), []byte("not opus"), 0o644))

	s := bundled.NewStore(dir)
	desc, err := s.Resolve(context.Background(), &tour.POI{ID: "x", AssetPath: "bad.opus"})
	require.NoError(t, err)
	assert.Zero(t, desc.Duration)
}
