package live

import (
	"log/slog"
	"time"

	"github.com/waytale/waytale/pkg/content/cache"
)

// Config holds live narration generator configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Provider credentials
	APIKey  string
	BaseURL string

	// Voice configuration
	Voice   string
	ModelID string

	// Audio output format requested from the provider.
	Format string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// SpoolDir is where generated audio is written so the descriptor
	// can hand playback a file path.
	SpoolDir string

	// Cache, when set, receives a best-effort write-back after a
	// successful generation.
	Cache cache.Store

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring live generators.
type Option func(*Config)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the default provider URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithVoice sets the narration voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithModel sets the generation model.
func WithModel(modelID string) Option {
	return func(c *Config) {
		c.ModelID = modelID
	}
}

// WithFormat sets the requested audio output format.
func WithFormat(format string) Option {
	return func(c *Config) {
		c.Format = format
	}
}

// WithHandshakeTimeout bounds the websocket dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithSpoolDir sets the directory generated audio is spooled to.
func WithSpoolDir(dir string) Option {
	return func(c *Config) {
		c.SpoolDir = dir
	}
}

// WithCache enables write-back of generated narration to a cache store.
func WithCache(store cache.Store) Option {
	return func(c *Config) {
		c.Cache = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Format:           "ogg_opus",
		HandshakeTimeout: 10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
