package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/numia-vision/vision-server/internal/logger"
	"github.com/numia-vision/vision-server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	// Browser clients connect from arbitrary dashboard origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleDetectWS(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, "detect")
}

func (s *Server) handleHeatmapWS(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, "heatmap")
}

// serveStream runs one WebSocket connection's read-handle-write loop.
// The session is exclusively owned by this goroutine; registry and
// metrics cleanup happens exactly once on any exit path.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, label string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Server", "%s upgrade failed: %v", label, err)
		return
	}

	id := s.registry.Register()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Add(1)
		s.metrics.TotalConnections.Add(1)
	}
	logger.Info("Server", "%s client %d connected from %s", label, id, r.RemoteAddr)

	sess := session.New(session.Config{
		Adapter:        s.adapter,
		Registry:       s.registry,
		Metrics:        s.metrics,
		Sink:           s.sink,
		AlertThreshold: s.cfg.AlertThreshold,
	})

	defer func() {
		sess.Close()
		s.registry.Unregister(id)
		if s.metrics != nil {
			s.metrics.ActiveConnections.Add(^uint64(0))
		}
		conn.Close()
		logger.Info("Server", "%s client %d disconnected", label, id)
	}()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Server", "%s client %d read error: %v", label, id, err)
			}
			return
		}

		resp := sess.Handle(ctx, raw)
		if resp == nil {
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			if s.metrics != nil {
				s.metrics.WriteErrors.Add(1)
			}
			logger.Warn("Server", "%s client %d write error: %v", label, id, err)
			return
		}
	}
}
