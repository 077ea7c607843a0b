// Package web serves the presentation API: tour state snapshots, manual
// override endpoints and a websocket push of engine state.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/hub"
)

// Server exposes the engine over HTTP and websocket.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	eng      *engine.Engine
	stateHub *hub.Hub
}

// NewServer wires routes for the given engine.
func NewServer(addr string, eng *engine.Engine) *Server {
	s := &Server{
		addr:     addr,
		logger:   log.Component("web"),
		eng:      eng,
		stateHub: hub.New("state"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "waytale",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/tour", s.handleTour)
	api.Post("/position", s.handlePosition)
	api.Post("/trigger/:poi", s.handleTrigger)
	api.Post("/skip", s.handleSkip)
	api.Post("/resume", s.handleResume)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app
	return s
}

// PushState broadcasts a snapshot to websocket subscribers. Wire it to the
// engine's OnSnapshot hook.
func (s *Server) PushState(snap engine.Snapshot) {
	if s.stateHub.ClientCount() == 0 {
		return
	}
	if err := s.stateHub.BroadcastJSON(stateView(snap)); err != nil {
		s.logger.Warn("state broadcast failed", "error", err)
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.stateHub.Run(ctx) })
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.addr)
		return s.app.Listen(s.addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.app.Shutdown()
	})

	return g.Wait()
}
