package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/content/cache"
	"github.com/waytale/waytale/pkg/tour"
)

const googleTTSScope = "https://www.googleapis.com/auth/cloud-platform"

// GoogleTTS synthesizes narration through the Google Cloud Text-to-Speech
// REST API. It is a non-streaming alternative to WSGenerator for
// deployments without a generation backend of their own.
type GoogleTTS struct {
	config *Config
	logger *slog.Logger
	svc    *texttospeech.Service
}

// GoogleTTSConfig carries the credentials that do not fit the shared
// functional options.
type GoogleTTSConfig struct {
	// CredentialsJSON is a service account key. When empty, application
	// default credentials are used.
	CredentialsJSON []byte
}

// NewGoogleTTS creates a Google Cloud TTS narration source.
func NewGoogleTTS(ctx context.Context, gcfg GoogleTTSConfig, opts ...Option) (*GoogleTTS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.SpoolDir == "" {
		return nil, ErrNoSpoolDir
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("live: create spool dir: %w", err)
	}
	if cfg.Voice == "" {
		cfg.Voice = "en-US-Neural2-D"
	}

	var clientOpts []option.ClientOption
	if len(gcfg.CredentialsJSON) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, gcfg.CredentialsJSON, googleTTSScope)
		if err != nil {
			return nil, fmt.Errorf("live: parse google credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(creds.TokenSource))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("live: create tts service: %w", err)
	}

	return &GoogleTTS{
		config: cfg,
		logger: cfg.Logger.With("component", "content.live.googletts"),
		svc:    svc,
	}, nil
}

// Kind implements content.Source.
func (g *GoogleTTS) Kind() content.SourceKind { return content.KindLive }

// Resolve implements content.Source.
func (g *GoogleTTS) Resolve(ctx context.Context, p *tour.POI) (*content.AudioDescriptor, error) {
	if p.Script == "" {
		return nil, fmt.Errorf("live: poi %s has no script", p.ID)
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: p.Script},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: languageCode(g.config.Voice),
			Name:         g.config.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "OGG_OPUS"},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.Code, Message: apiErr.Message, Provider: "googletts"}
		}
		return nil, content.Transient(fmt.Errorf("live: synthesize: %w", err))
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("live: decode synthesis: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("live: empty synthesis")
	}

	path := filepath.Join(g.config.SpoolDir, p.ID+".audio")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("live: spool audio: %w", err)
	}

	g.writeBack(p, audio, 0)

	return &content.AudioDescriptor{
		SourceKind:    content.KindLive,
		PayloadHandle: path,
		Transcript:    p.Script,
	}, nil
}

// writeBack mirrors WSGenerator's best-effort cache population.
func (g *GoogleTTS) writeBack(p *tour.POI, audio []byte, duration time.Duration) {
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

// languageCode derives the BCP-47 language from a voice name such as
// "en-US-Neural2-D".
func languageCode(voice string) string {
	if len(voice) >= 5 && voice[2] == '-' {
		return voice[:5]
	}
	return "en-US"
}
