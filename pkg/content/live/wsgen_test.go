package live

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/content/cache"
	"github.com/waytale/waytale/pkg/tour"
)

var upgrader = websocket.Upgrader{}

// genServer runs a fake generation backend whose behavior is driven by the
// handler func.
func genServer(t *testing.T, handle func(conn *websocket.Conn, req genRequest)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req genRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		handle(conn, req)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testPOI() *tour.POI {
	return &tour.POI{ID: "fountain", Name: "Fountain", Script: "The fountain dates to 1897."}
}

// memStore is an in-memory cache.Store for observing write-backs.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newMemStore() *memStore { return &memStore{entries: map[string]*cache.Entry{}} }

func (m *memStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, content.ErrNotCached
	}
	return e, nil
}

func (m *memStore) Put(ctx context.Context, key string, e *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *memStore) Close() error { return nil }

func TestWSGeneratorResolve(t *testing.T) {
	chunks := [][]byte{[]byte("OggS-head"), []byte("OggS-tail")}
	url := genServer(t, func(conn *websocket.Conn, req genRequest) {
		assert.Equal(t, "The fountain dates to 1897.", req.Script)
		for _, c := range chunks {
			conn.WriteJSON(genMessage{Audio: base64.StdEncoding.EncodeToString(c)})
		}
		conn.WriteJSON(genMessage{Done: true, DurationMS: 4500})
	})

	store := newMemStore()
	gen, err := NewWSGenerator(
		WithAPIKey("test-key"),
		WithBaseURL(url),
		WithSpoolDir(t.TempDir()),
		WithCache(store),
	)
	require.NoError(t, err)

	desc, err := gen.Resolve(context.Background(), testPOI())
	require.NoError(t, err)
	assert.Equal(t, content.KindLive, desc.SourceKind)
	assert.Equal(t, 4500*time.Millisecond, desc.Duration)
	assert.Equal(t, "The fountain dates to 1897.", desc.Transcript)

	data, err := os.ReadFile(desc.PayloadHandle)
	require.NoError(t, err)
	assert.Equal(t, "OggS-headOggS-tail", string(data))
	assert.Equal(t, "fountain.audio", filepath.Base(desc.PayloadHandle))

	entry, err := store.Get(context.Background(), cache.Key(testPOI()))
	require.NoError(t, err)
	assert.Equal(t, "OggS-headOggS-tail", string(entry.Audio))
}

func TestWSGeneratorServerError(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", 429, true},
		{"server error", 503, true},
		{"bad request", 400, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := genServer(t, func(conn *websocket.Conn, req genRequest) {
				conn.WriteJSON(genMessage{Error: &struct {
					Status  int    `json:"status"`
					Message string `json:"message"`
				}{Status: tc.status, Message: "nope"}})
			})

			gen, err := NewWSGenerator(WithAPIKey("k"), WithBaseURL(url), WithSpoolDir(t.TempDir()))
			require.NoError(t, err)

			_, err = gen.Resolve(context.Background(), testPOI())
			require.Error(t, err)
			assert.Equal(t, tc.transient, content.IsTransient(err))
		})
	}
}

func TestWSGeneratorDialFailureTransient(t *testing.T) {
	gen, err := NewWSGenerator(WithAPIKey("k"), WithBaseURL("ws://127.0.0.1:1/gen"), WithSpoolDir(t.TempDir()))
	require.NoError(t, err)

	_, err = gen.Resolve(context.Background(), testPOI())
	require.Error(t, err)
	assert.True(t, content.IsTransient(err))
}

func TestWSGeneratorCancel(t *testing.T) {
	started := make(chan struct{})
	url := genServer(t, func(conn *websocket.Conn, req genRequest) {
		close(started)
		// Never answer; the client context cancel must unblock the read.
		time.Sleep(2 * time.Second)
	})

	gen, err := NewWSGenerator(WithAPIKey("k"), WithBaseURL(url), WithSpoolDir(t.TempDir()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gen.Resolve(ctx, testPOI())
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, content.IsTransient(err))
	case <-time.After(time.Second):
		t.Fatal("resolve did not unblock on cancel")
	}
}

func TestWSGeneratorMissingConfig(t *testing.T) {
	_, err := NewWSGenerator(WithBaseURL("ws://x"), WithSpoolDir(t.TempDir()))
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewWSGenerator(WithAPIKey("k"), WithBaseURL("ws://x"))
	assert.ErrorIs(t, err, ErrNoSpoolDir)
}
