// Package content resolves a triggered point of interest into playable audio,
// preferring freshest content and degrading gracefully through a fallback
// chain: live generation, cached generation, bundled asset.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waytale/waytale/pkg/tour"
)

// SourceKind identifies a stage of the fallback chain.
type SourceKind string

const (
	KindLive   SourceKind = "live"
	KindCached SourceKind = "cached"
	KindLocal  SourceKind = "local"
)

// AudioDescriptor describes resolved audio ready for playback.
// It is consumed, not retained, by the playback orchestrator.
type AudioDescriptor struct {
	SourceKind SourceKind `json:"source_kind"`

	// PayloadHandle locates the audio payload: a file path for local and
	// cached content, an opaque handle for streamed live content.
	PayloadHandle string        `json:"payload_handle"`
	Duration      time.Duration `json:"duration,omitempty"`
	Transcript    string        `json:"transcript,omitempty"`
}

// Source is one stage of the fallback chain.
type Source interface {
	Kind() SourceKind
	Resolve(ctx context.Context, p *tour.POI) (*AudioDescriptor, error)
}

// Sentinel errors.
var (
	// ErrUnavailable means every stage of the chain failed.
	ErrUnavailable = errors.New("content: unavailable")

	// ErrTransient marks failures worth retrying with backoff.
	ErrTransient = errors.New("content: transient failure")

	// ErrNotCached is returned by cache stores on a miss.
	ErrNotCached = errors.New("content: not cached")

	// ErrNoAsset is returned by the bundled store when a POI has no asset.
	ErrNoAsset = errors.New("content: no bundled asset")
)

// Transient wraps err so the resolver retries it with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether the resolver should retry the failure.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Attempt records one failed stage for diagnostics.
type Attempt struct {
	Kind    SourceKind    `json:"kind"`
	Error   string        `json:"error"`
	Elapsed time.Duration `json:"elapsed"`
}

// UnavailableError aggregates the attempt chain when all stages fail.
type UnavailableError struct {
	POIID    string
	Attempts []Attempt
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("content: all %d stages failed for %s", len(e.Attempts), e.POIID)
}

// Unwrap lets callers match ErrUnavailable.
func (e *UnavailableError) Unwrap() error { return ErrUnavailable }
