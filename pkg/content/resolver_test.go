package content_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/tour"
)

func testPOI(id string) *tour.POI {
	return &tour.POI{ID: id, Name: id, BaseRadius: 100, Script: "script for " + id}
}

func fastConfig() content.Config {
	return content.Config{
		StageTimeout: 200 * time.Millisecond,
		LiveAttempts: 3,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}
}

func collect() (func(content.Result), chan content.Result) {
	ch := make(chan content.Result, 16)
	return func(r content.Result) { ch <- r }, ch
}

func wait(t *testing.T, ch chan content.Result) content.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for resolution result")
		return content.Result{}
	}
}

func TestChainPrefersLive(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	cached := content.NewMockSource(content.KindCached)
	onResult, results := collect()
	r := content.NewResolver(clock.System(), fastConfig(), onResult, live, cached)

	r.Request(context.Background(), testPOI("opera"))
	res := wait(t, results)

	require.NoError(t, res.Err)
	assert.Equal(t, content.KindLive, res.Descriptor.SourceKind)
	assert.Empty(t, res.Attempts)
	assert.Empty(t, cached.Calls(), "later stages must not run after a success")
}

func TestNonTransientFailureFallsThroughImmediately(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Fail(errors.New("invalid configuration"))
	cached := content.NewMockSource(content.KindCached)
	onResult, results := collect()
	r := content.NewResolver(clock.System(), fastConfig(), onResult, live, cached)

	r.Request(context.Background(), testPOI("opera"))
	res := wait(t, results)

	require.NoError(t, res.Err)
	assert.Equal(t, content.KindCached, res.Descriptor.SourceKind)
	assert.Len(t, live.Calls(), 1, "non-transient failures are not retried")
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, content.KindLive, res.Attempts[0].Kind)
}

func TestTransientLiveFailureRetriesWithBackoff(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Fail(content.Transient(errors.New("upstream 503")))
	cached := content.NewMockSource(content.KindCached)
	onResult, results := collect()
	r := content.NewResolver(clock.System(), fastConfig(), onResult, live, cached)

	r.Request(context.Background(), testPOI("opera"))
	res := wait(t, results)

	require.NoError(t, res.Err)
	assert.Equal(t, content.KindCached, res.Descriptor.SourceKind)
	assert.Len(t, live.Calls(), 3, "transient failures retry up to the cap")
	assert.Len(t, res.Attempts, 3)
}

func TestStageTimeoutFallsThrough(t *testing.T) {
	// Network quality drops: the live stage hangs, the cached stage wins.
	live := content.NewMockSource(content.KindLive)
	live.Block()
	cached := content.NewMockSource(content.KindCached)
	onResult, results := collect()

	cfg := fastConfig()
	cfg.StageTimeout = 30 * time.Millisecond
	cfg.LiveAttempts = 1
	r := content.NewResolver(clock.System(), cfg, onResult, live, cached)

	r.Request(context.Background(), testPOI("poi-x"))
	res := wait(t, results)

	require.NoError(t, res.Err)
	assert.Equal(t, content.KindCached, res.Descriptor.SourceKind)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, content.KindLive, res.Attempts[0].Kind)
}

func TestAllStagesFail(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Fail(errors.New("no network"))
	local := content.NewMockSource(content.KindLocal)
	local.Fail(content.ErrNoAsset)
	onResult, results := collect()
	r := content.NewResolver(clock.System(), fastConfig(), onResult, live, local)

	r.Request(context.Background(), testPOI("opera"))
	res := wait(t, results)

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, content.ErrUnavailable)

	var unavail *content.UnavailableError
	require.ErrorAs(t, res.Err, &unavail)
	assert.Equal(t, "opera", unavail.POIID)
	assert.Len(t, unavail.Attempts, 2)
}

func TestSecondRequestCancelsFirst(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Block()
	started := make(chan string, 4)
	live.NotifyStarted(started)
	onResult, results := collect()

	cfg := fastConfig()
	cfg.StageTimeout = 10 * time.Second // only cancellation can end the block
	r := content.NewResolver(clock.System(), cfg, onResult, live)

	first := r.Request(context.Background(), testPOI("opera"))
	<-started
	assert.Equal(t, []string{"opera"}, r.InFlight())

	live.Fail(errors.New("down")) // second request fails fast
	second := r.Request(context.Background(), testPOI("opera"))
	<-started

	res := wait(t, results)
	assert.Equal(t, second, res.RequestID, "only the superseding request may complete")
	assert.NotEqual(t, first, res.RequestID)
	assert.Empty(t, r.InFlight())

	// The cancelled request must never emit a late completion.
	select {
	case extra := <-results:
		t.Fatalf("unexpected second result: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelSuppressesCompletion(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Block()
	started := make(chan string, 1)
	live.NotifyStarted(started)
	onResult, results := collect()

	cfg := fastConfig()
	cfg.StageTimeout = 10 * time.Second
	r := content.NewResolver(clock.System(), cfg, onResult, live)

	r.Request(context.Background(), testPOI("opera"))
	<-started
	r.Cancel("opera")

	assert.Empty(t, r.InFlight())
	select {
	case res := <-results:
		t.Fatalf("cancelled request emitted a result: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelAll(t *testing.T) {
	live := content.NewMockSource(content.KindLive)
	live.Block()
	started := make(chan string, 2)
	live.NotifyStarted(started)
	onResult, results := collect()

	cfg := fastConfig()
	cfg.StageTimeout = 10 * time.Second
	r := content.NewResolver(clock.System(), cfg, onResult, live)

	r.Request(context.Background(), testPOI("a"))
	r.Request(context.Background(), testPOI("b"))
	<-started
	<-started
	require.Len(t, r.InFlight(), 2)

	r.CancelAll()
	assert.Empty(t, r.InFlight())
	select {
	case res := <-results:
		t.Fatalf("cancelled request emitted a result: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}
