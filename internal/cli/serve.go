package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waytale/waytale/internal/config"
	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/clock"
	"github.com/waytale/waytale/pkg/content"
	"github.com/waytale/waytale/pkg/content/bundled"
	"github.com/waytale/waytale/pkg/content/cache"
	"github.com/waytale/waytale/pkg/content/live"
	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/geofence"
	"github.com/waytale/waytale/pkg/playback"
	"github.com/waytale/waytale/pkg/tour"
	"github.com/waytale/waytale/pkg/web"
)

// ServeCmd runs the tour engine with the presentation API. Positions come
// in over POST /api/position; region monitoring and the audio pipeline are
// in-process stand-ins for the platform services a mobile shell provides.
func ServeCmd() *cobra.Command {
	var (
		tourPath   string
		port       string
		cacheDir   string
		assetDir   string
		redisAddr  string
		autoResume bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tour engine and presentation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			godotenv.Load()
			log.Init(config.Env("WAYTALE_LOG_LEVEL", logLevel))

			tr, err := tour.Load(tourPath)
			if err != nil {
				return fmt.Errorf("load tour: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cacheDir, redisAddr)
			if err != nil {
				return err
			}
			defer store.Close()

			sources, err := buildSources(ctx, store, cacheDir, assetDir)
			if err != nil {
				return err
			}

			eng := engine.New(
				tr,
				geofence.NewMock(0),
				playback.NewMockPipeline(),
				sources,
				clock.System(),
				engine.Config{Playback: playback.Config{AutoResume: autoResume}},
			)

			srv := web.NewServer(":"+port, eng)
			eng.OnSnapshot = srv.PushState

			watcher, err := tour.Watch(tourPath)
			if err != nil {
				return fmt.Errorf("watch tour: %w", err)
			}
			defer watcher.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return eng.Run(ctx) })
			g.Go(func() error { return srv.Run(ctx) })
			g.Go(func() error {
				watcher.Run(ctx)
				return nil
			})
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case next := <-watcher.Updates():
						eng.Publish(engine.TourReplaced{Tour: next})
					}
				}
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&tourPath, "tour", "", "path to the tour YAML file (required)")
	cmd.Flags().StringVar(&port, "port", config.Env("WAYTALE_PORT", config.DefaultWebPort), "HTTP listen port")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", config.Env("WAYTALE_CACHE_DIR", config.DefaultCacheDir), "directory for cached narration")
	cmd.Flags().StringVar(&assetDir, "asset-dir", config.Env("WAYTALE_ASSET_DIR", config.DefaultAssetDir), "directory with bundled audio assets")
	cmd.Flags().StringVar(&redisAddr, "redis", os.Getenv("WAYTALE_REDIS_ADDR"), "redis address for a shared cache (empty = local badger)")
	cmd.Flags().BoolVar(&autoResume, "auto-resume", false, "resume playback automatically after interruptions")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	cmd.MarkFlagRequired("tour")

	return cmd
}

func openStore(ctx context.Context, cacheDir, redisAddr string) (cache.Store, error) {
	if redisAddr != "" {
		store, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     redisAddr,
			Password: os.Getenv("WAYTALE_REDIS_PASSWORD"),
			DB:       config.EnvInt("WAYTALE_REDIS_DB", 0),
		})
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		return store, nil
	}

	store, err := cache.OpenBadger(filepath.Join(cacheDir, "narration"), cache.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return store, nil
}

// buildSources assembles the fallback chain: live generation when a
// backend is configured, then the cache, then bundled assets. The live
// provider is picked by WAYTALE_GEN_PROVIDER: "wsgen" (the default,
// active when WAYTALE_GEN_URL is set) or "googletts".
func buildSources(ctx context.Context, store cache.Store, cacheDir, assetDir string) ([]content.Source, error) {
	var sources []content.Source

	shared := []live.Option{
		live.WithSpoolDir(filepath.Join(cacheDir, "spool")),
		live.WithCache(store),
	}
	if voice := os.Getenv("WAYTALE_VOICE"); voice != "" {
		shared = append(shared, live.WithVoice(voice))
	}

	switch provider := os.Getenv("WAYTALE_GEN_PROVIDER"); provider {
	case "googletts":
		var gcfg live.GoogleTTSConfig
		if path := os.Getenv("WAYTALE_GOOGLE_CREDENTIALS"); path != "" {
			creds, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read google credentials: %w", err)
			}
			gcfg.CredentialsJSON = creds
		}
		gen, err := live.NewGoogleTTS(ctx, gcfg, shared...)
		if err != nil {
			return nil, fmt.Errorf("configure live generation: %w", err)
		}
		sources = append(sources, gen)

	case "", "wsgen":
		if genURL := os.Getenv("WAYTALE_GEN_URL"); genURL != "" {
			opts := append(shared,
				live.WithAPIKey(config.Required("WAYTALE_GEN_KEY")),
				live.WithBaseURL(genURL),
			)
			gen, err := live.NewWSGenerator(opts...)
			if err != nil {
				return nil, fmt.Errorf("configure live generation: %w", err)
			}
			sources = append(sources, gen)
		}

	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}

	sources = append(sources,
		cache.NewSource(store, filepath.Join(cacheDir, "hits")),
		bundled.NewStore(assetDir),
	)
	return sources, nil
}
