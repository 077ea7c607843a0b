package live

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/content/cache"
	"github.com/waytale/waytale/pkg/tour"
)

// WSGenerator streams narration audio from a generation API over a
// WebSocket, one connection per request. Chunks arrive as they are
// synthesized and are spooled to disk so playback gets a plain file path.
type WSGenerator struct {
	config *Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

// genRequest is the begin-of-stream message sent after dialing.
type genRequest struct {
	Script string `json:"script"`
	Voice  string `json:"voice,omitempty"`
	Model  string `json:"model,omitempty"`
	Format string `json:"format,omitempty"`
}

// genMessage is one server frame: an audio chunk, a completion marker, or
// an error.
type genMessage struct {
	Audio      string  `json:"audio,omitempty"` // base64
	Done       bool    `json:"done,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Error      *struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewWSGenerator creates a streaming narration generator.
func NewWSGenerator(opts ...Option) (*WSGenerator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("live: base URL required")
	}
	if cfg.SpoolDir == "" {
		return nil, ErrNoSpoolDir
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("live: create spool dir: %w", err)
	}

	return &WSGenerator{
		config: cfg,
		logger: cfg.Logger.With("component", "content.live.ws"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Kind implements content.Source.
func (g *WSGenerator) Kind() content.SourceKind { return content.KindLive }

// Resolve implements content.Source. Dial failures and server errors with
// retryable status codes surface as transient so the resolver can back off
// and retry; everything else falls through the chain immediately.
func (g *WSGenerator) Resolve(ctx context.Context, p *tour.POI) (*content.AudioDescriptor, error) {
	if p.Script == "" {
		return nil, fmt.Errorf("live: poi %s has no script", p.ID)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+g.config.APIKey)

	conn, resp, err := g.dialer.DialContext(ctx, g.config.BaseURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Provider: "wsgen"}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network-level dial failures are worth a retry.
		return nil, content.Transient(fmt.Errorf("live: dial: %w", err))
	}
	defer conn.Close()

	// Cancel unblocks the read loop by tearing the connection down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := genRequest{
		Script: p.Script,
		Voice:  g.config.Voice,
		Model:  g.config.ModelID,
		Format: g.config.Format,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, content.Transient(fmt.Errorf("live: send request: %w", err))
	}

	audio, duration, err := g.readStream(ctx, conn)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(g.config.SpoolDir, p.ID+".audio")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("live: spool audio: %w", err)
	}

	g.writeBack(p, audio, duration)

	return &content.AudioDescriptor{
		SourceKind:    content.KindLive,
		PayloadHandle: path,
		Duration:      duration,
		Transcript:    p.Script,
	}, nil
}

// readStream accumulates audio frames until the server signals completion.
func (g *WSGenerator) readStream(ctx context.Context, conn *websocket.Conn) ([]byte, time.Duration, error) {
	var audio []byte
	for {
		var msg genMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, 0, fmt.Errorf("live: stream closed before completion")
			}
			return nil, 0, content.Transient(fmt.Errorf("live: read stream: %w", err))
		}

		if msg.Error != nil {
			return nil, 0, &APIError{StatusCode: msg.Error.Status, Message: msg.Error.Message, Provider: "wsgen"}
		}

		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, 0, fmt.Errorf("live: decode audio chunk: %w", err)
			}
			audio = append(audio, chunk...)
		}

		if msg.Done {
			if len(audio) == 0 {
				return nil, 0, fmt.Errorf("live: empty generation")
			}
			return audio, time.Duration(msg.DurationMS) * time.Millisecond, nil
		}
	}
}

// writeBack stores a successful generation for the cached stage. Failures
// are logged, never surfaced: the caller already has its audio.
func (g *WSGenerator) writeBack(p *tour.POI, audio []byte, duration time.Duration) {
	if g.config.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &cache.Entry{
		Audio:      audio,
		Transcript: p.Script,
		Duration:   duration,
		StoredAt:   time.Now(),
	}
	if err := g.config.Cache.Put(ctx, cache.Key(p), entry); err != nil {
		g.logger.Warn("cache write-back failed", "poi", p.ID, "error", err)
	}
}
