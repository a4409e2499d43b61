// Package session implements the per-connection protocol state machine:
// it interprets inbound control/frame messages, drives detection calls,
// mutates heatmap accumulator state, and assembles structured responses.
package session

import (
	"context"
	"time"

	"github.com/numia-vision/vision-server/internal/detect"
	"github.com/numia-vision/vision-server/internal/heatmap"
	"github.com/numia-vision/vision-server/internal/logger"
	"github.com/numia-vision/vision-server/internal/metrics"
)

// Mode is the session's processing mode.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCounting
	ModeHeatmapping
	// ModeStopped still serves get_final_heatmap reads but ignores
	// frame messages until a new init_heatmap arrives.
	ModeStopped
)

// EventSink receives persistence events from the frame path. Calls are
// fire-and-forget from the session's point of view: a failing or slow
// sink never blocks or breaks the protocol loop.
type EventSink interface {
	SaveDetection(count int, avgConfidence float64, persons []detect.Person)
	RaiseAlert(count, threshold int)
}

// Config wires a session's collaborators. Sink may be nil.
type Config struct {
	Adapter        *detect.Adapter
	Registry       *Registry
	Metrics        *metrics.Metrics
	Sink           EventSink
	AlertThreshold int // 0 disables alerting
}

// Session is the per-connection state: mode, optional accumulator, and
// the cached final snapshot after stop_heatmap. It is exclusively owned
// by its connection's goroutine.
type Session struct {
	cfg Config

	mode          Mode
	heat          *heatmap.Accumulator
	heatmapActive bool
	finalSnapshot *SnapshotResponse
}

// New creates an idle session.
func New(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// Mode returns the current processing mode.
func (s *Session) Mode() Mode { return s.mode }

// Close releases the session's accumulator. The accumulator is not
// persisted; callers wanting a final snapshot must request one before
// closing.
func (s *Session) Close() {
	s.heat = nil
	s.heatmapActive = false
}

// Handle processes one raw inbound payload and returns the response to
// send, or nil when nothing should be sent. Per-frame failures are
// contained here; Handle never returns an error that should terminate
// the connection.
func (s *Session) Handle(ctx context.Context, raw []byte) any {
	msg, err := ParseMessage(raw)
	if err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ParseErrors.Add(1)
		}
		logger.Warn("Session", "dropping malformed message: %v", err)
		return nil
	}

	switch msg.Kind {
	case KindPing:
		return PongResponse{Type: "pong"}
	case KindFrame:
		return s.handleFrame(ctx, msg)
	case KindInitHeatmap:
		return s.handleInitHeatmap(msg)
	case KindResetHeatmap:
		return s.handleResetHeatmap()
	case KindGetFinalHeatmap:
		return s.handleGetFinalHeatmap()
	case KindStopHeatmap:
		return s.handleStopHeatmap()
	default:
		logger.Warn("Session", "unrecognized message type %q", msg.Type)
		return nil
	}
}

func (s *Session) handleFrame(ctx context.Context, msg Message) any {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesReceived.Add(1)
	}
	if msg.Frame == "" {
		return nil
	}

	switch s.mode {
	case ModeHeatmapping:
		return s.handleHeatmapFrame(ctx, msg)
	case ModeStopped:
		// Frames are ignored until a new init_heatmap.
		return nil
	default:
		s.mode = ModeCounting
		return s.handleCountFrame(ctx, msg)
	}
}

func (s *Session) handleCountFrame(ctx context.Context, msg Message) any {
	img, persons, err := s.cfg.Adapter.ProcessFrame(ctx, msg.Frame)
	if err != nil {
		logger.Warn("Session", "skipping frame: %v", err)
		s.skipFrame()
		return nil
	}

	annotated, err := detect.EncodeFrame(detect.Annotate(img, persons))
	if err != nil {
		logger.Warn("Session", "skipping frame, encode failed: %v", err)
		s.skipFrame()
		return nil
	}

	now := time.Now()
	count := len(persons)
	s.cfg.Registry.RecordCount(count, now)
	s.persist(count, persons)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesProcessed.Add(1)
	}

	return DetectionResponse{
		Type:      "detection",
		Count:     count,
		Persons:   persons,
		Frame:     annotated,
		Timestamp: now.Format(time.RFC3339),
		History:   s.cfg.Registry.Recent(30),
	}
}

func (s *Session) handleHeatmapFrame(ctx context.Context, msg Message) any {
	if !s.heatmapActive || s.heat == nil {
		return nil
	}

	img, persons, err := s.cfg.Adapter.ProcessFrame(ctx, msg.Frame)
	if err != nil {
		logger.Warn("Session", "skipping heatmap frame: %v", err)
		s.skipFrame()
		return nil
	}

	// Lazy reference binding: the first frame after a size-only init
	// becomes the overlay background, bound together with its own
	// detections so the reference is never a half-processed frame.
	if !s.heat.HasReference() {
		s.heat.BindReference(img)
	}

	s.heat.Fold(persons)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.HeatmapFolds.Add(1)
		s.cfg.Metrics.FramesProcessed.Add(1)
	}

	annotated, err := detect.EncodeFrame(detect.Annotate(img, persons))
	if err != nil {
		logger.Warn("Session", "skipping heatmap frame, encode failed: %v", err)
		s.skipFrame()
		return nil
	}

	overlay := s.renderOverlay(heatmap.UpdateBlend)
	return HeatmapUpdateResponse{
		Type:      "heatmap_update",
		Count:     len(persons),
		Persons:   persons,
		Frame:     annotated,
		Heatmap:   overlay,
		Stats:     s.heat.Stats(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (s *Session) handleInitHeatmap(msg Message) any {
	var acc *heatmap.Accumulator
	if msg.ReferenceImage != "" {
		ref, err := detect.DecodeFrame(msg.ReferenceImage)
		if err != nil {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.DecodeErrors.Add(1)
			}
			return ErrorResponse{Type: "error", Message: "invalid reference image"}
		}
		acc = heatmap.NewFromImage(ref)
	} else {
		width, height := msg.Width, msg.Height
		if width <= 0 {
			width = defaultHeatmapWidth
		}
		if height <= 0 {
			height = defaultHeatmapHeight
		}
		acc = heatmap.New(width, height)
	}

	s.heat = acc
	s.heatmapActive = true
	s.finalSnapshot = nil
	s.mode = ModeHeatmapping
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.HeatmapSessions.Add(1)
	}

	w, h := acc.Size()
	logger.Info("Session", "heatmap initialized (%dx%d)", w, h)
	return AckResponse{Type: "heatmap_initialized", Status: "ok"}
}

func (s *Session) handleResetHeatmap() any {
	if s.heat == nil {
		return ErrorResponse{Type: "error", Message: "heatmap not initialized"}
	}
	s.heat.Reset()
	return AckResponse{Type: "heatmap_reset", Status: "ok"}
}

func (s *Session) handleGetFinalHeatmap() any {
	if s.heat == nil {
		return ErrorResponse{Type: "error", Message: "heatmap not initialized"}
	}
	return SnapshotResponse{
		Type:    "final_heatmap",
		Heatmap: s.renderOverlay(heatmap.FinalBlend),
		Stats:   s.heat.Stats(),
	}
}

// handleStopHeatmap is deterministic in every state: before any init it
// acknowledges with a null heatmap and zero stats; while stopped it
// resends the snapshot cached at the first stop; otherwise it renders a
// final snapshot, caches it, and deactivates the heatmap.
func (s *Session) handleStopHeatmap() any {
	if s.mode == ModeStopped && s.finalSnapshot != nil {
		return *s.finalSnapshot
	}
	if s.heat == nil || s.mode != ModeHeatmapping {
		return SnapshotResponse{Type: "heatmap_stopped"}
	}

	snap := SnapshotResponse{
		Type:    "heatmap_stopped",
		Heatmap: s.renderOverlay(heatmap.FinalBlend),
		Stats:   s.heat.Stats(),
	}
	s.finalSnapshot = &snap
	s.heatmapActive = false
	s.mode = ModeStopped
	return snap
}

func (s *Session) renderOverlay(blend float64) *string {
	encoded, err := detect.EncodeFrame(s.heat.Render(blend))
	if err != nil {
		logger.Warn("Session", "heatmap render encode failed: %v", err)
		return nil
	}
	return &encoded
}

func (s *Session) persist(count int, persons []detect.Person) {
	if s.cfg.Sink == nil {
		return
	}
	sink := s.cfg.Sink
	avg := detect.AvgConfidence(persons)
	go sink.SaveDetection(count, avg, persons)
	if s.cfg.AlertThreshold > 0 && count > s.cfg.AlertThreshold {
		threshold := s.cfg.AlertThreshold
		go sink.RaiseAlert(count, threshold)
	}
}

func (s *Session) skipFrame() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesSkipped.Add(1)
	}
}
