// Package cache stores generated narration audio so a POI resolved once can
// replay without the generation backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/tour"
)

// DefaultTTL bounds how long generated audio stays fresh.
const DefaultTTL = 14 * 24 * time.Hour

// Entry is one cached generation result.
type Entry struct {
	Audio      []byte        `json:"audio"`
	Transcript string        `json:"transcript,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	StoredAt   time.Time     `json:"stored_at"`
}

// Store is the cached-generation backend. Get returns content.ErrNotCached
// on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
	Close() error
}

// Key derives the cache key for a POI. The script hash is part of the key so
// an edited narration script invalidates stale audio.
func Key(p *tour.POI) string {
	sum := sha256.Sum256([]byte(p.Script))
	return p.ID + ":" + hex.EncodeToString(sum[:8])
}

// Source adapts a Store into the cached stage of the fallback chain.
// Hits are materialized as files under dir so the playback pipeline gets a
// plain path handle.
type Source struct {
	store Store
	dir   string
}

// NewSource creates the cached chain stage.
func NewSource(store Store, dir string) *Source {
	return &Source{store: store, dir: dir}
}

// Kind implements content.Source.
func (s *Source) Kind() content.SourceKind { return content.KindCached }

// Resolve implements content.Source.
func (s *Source) Resolve(ctx context.Context, p *tour.POI) (*content.AudioDescriptor, error) {
	e, err := s.store.Get(ctx, Key(p))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	path := filepath.Join(s.dir, p.ID+".audio")
	if err := os.WriteFile(path, e.Audio, 0o640); err != nil {
		return nil, fmt.Errorf("cache: materialize %s: %w", p.ID, err)
	}

	return &content.AudioDescriptor{
		SourceKind:    content.KindCached,
		PayloadHandle: path,
		Duration:      e.Duration,
		Transcript:    e.Transcript,
	}, nil
}
