// Package bundled serves pre-packaged narration assets shipped with a tour,
// the last stage of the content fallback chain.
package bundled

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/tour"
)

// Store resolves POI asset paths against a bundled asset directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the bundled chain stage over dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, logger: log.Component("content.bundled")}
}

// Kind implements content.Source.
func (s *Store) Kind() content.SourceKind { return content.KindLocal }

// Resolve implements content.Source.
func (s *Store) Resolve(_ context.Context, p *tour.POI) (*content.AudioDescriptor, error) {
	if p.AssetPath == "" {
		return nil, content.ErrNoAsset
	}
	rel := filepath.Clean(p.AssetPath)
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("bundled: asset path escapes asset dir: %s", p.AssetPath)
	}
	path := filepath.Join(s.dir, rel)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", content.ErrNoAsset, p.AssetPath)
	}

	desc := &content.AudioDescriptor{
		SourceKind:    content.KindLocal,
		PayloadHandle: path,
		Transcript:    p.Script,
	}
	if strings.EqualFold(filepath.Ext(path), ".opus") {
		d, err := ProbeOpusDuration(path)
		if err != nil {
			// The duration hint is best-effort; a broken header still plays
			// through the pipeline's own decoder.
			s.logger.Warn("opus probe failed", "asset", p.AssetPath, "error", err)
		} else {
			desc.Duration = d
		}
	}
	return desc, nil
}
