package web

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/waytale/waytale/pkg/engine"
	"github.com/waytale/waytale/pkg/geo"
	"github.com/waytale/waytale/pkg/hub"
	"github.com/waytale/waytale/pkg/motion"
	"github.com/waytale/waytale/pkg/playback"
)

// playbackView is the wire shape of the playback session.
type playbackView struct {
	State             playback.State `json:"state"`
	Source            string         `json:"source,omitempty"`
	CrossfadeProgress float64        `json:"crossfade_progress,omitempty"`
	Transcript        string         `json:"transcript,omitempty"`
}

// stateResponse is the wire shape of an engine snapshot.
type stateResponse struct {
	engine.Snapshot
	Playback playbackView `json:"playback"`
}

func stateView(snap engine.Snapshot) stateResponse {
	pv := playbackView{
		State:             snap.Playback.State,
		CrossfadeProgress: snap.Playback.CrossfadeProgress,
	}
	if snap.Playback.Current != nil {
		pv.Source = string(snap.Playback.Current.SourceKind)
		pv.Transcript = snap.Playback.Current.Transcript
	}
	return stateResponse{Snapshot: snap, Playback: pv}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(stateView(s.eng.Snapshot()))
}

func (s *Server) handleTour(c *fiber.Ctx) error {
	return c.JSON(s.eng.Tour())
}

func (s *Server) handleTrigger(c *fiber.Ctx) error {
	poiID := c.Params("poi")
	if s.eng.Tour().Get(poiID) == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown poi"})
	}
	s.eng.Publish(engine.ManualTrigger{POIID: poiID})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"triggered": poiID})
}

// positionRequest is one client-reported position fix.
type positionRequest struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp_ms"` // unix millis; 0 means now
}

func (s *Server) handlePosition(c *fiber.Ctx) error {
	var req positionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad position payload"})
	}

	coord := geo.Coordinate{Lat: req.Lat, Lon: req.Lon}
	if !coord.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coordinate out of range"})
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	s.eng.Publish(engine.PositionUpdated{Sample: motion.Sample{
		Coordinate: coord,
		Timestamp:  ts,
		Accuracy:   req.Accuracy,
	}})
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleSkip(c *fiber.Ctx) error {
	s.eng.Publish(engine.Skip{})
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	s.eng.Publish(engine.Resume{})
	return c.SendStatus(fiber.StatusAccepted)
}

// handleStateWS pushes a snapshot on connect, then streams updates via the
// hub until the client goes away.
func (s *Server) handleStateWS(conn *websocket.Conn) {
	client := hub.NewClient(s.stateHub, conn)

	if data, err := json.Marshal(stateView(s.eng.Snapshot())); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}

	client.Run()
}
