// Package server exposes the vision backend over HTTP: the detection
// and heatmap WebSocket endpoints plus a JSON REST surface for stats,
// sessions, and alerts.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/numia-vision/vision-server/internal/detect"
	"github.com/numia-vision/vision-server/internal/logger"
	"github.com/numia-vision/vision-server/internal/metrics"
	"github.com/numia-vision/vision-server/internal/session"
	"github.com/numia-vision/vision-server/internal/store"
)

// Server wires the HTTP surface to the detection adapter, connection
// registry, and store.
type Server struct {
	cfg      Config
	adapter  *detect.Adapter
	registry *session.Registry
	metrics  *metrics.Metrics
	store    *store.Store // nil when persistence is disabled
	sink     session.EventSink
}

// NewServer returns a configured vision server. st may be nil, in
// which case persistence endpoints report the store as unavailable.
func NewServer(cfg Config, adapter *detect.Adapter, m *metrics.Metrics, st *store.Store) *Server {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultConfig().StatsInterval
	}
	s := &Server{
		cfg:      cfg,
		adapter:  adapter,
		registry: session.NewRegistry(),
		metrics:  m,
		store:    st,
	}
	if st != nil {
		s.sink = &storeSink{store: st, cameraID: cfg.CameraID}
	}
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/ws/detect", s.handleDetectWS)
	mux.HandleFunc("/ws/heatmap", s.handleHeatmapWS)
	mux.HandleFunc("/api/stats/current", s.handleCurrentStats)
	mux.HandleFunc("/api/stats/stream", s.handleStatsStream)
	mux.HandleFunc("/api/stats/today", s.handleTodayStats)
	mux.HandleFunc("/api/stats/hourly", s.handleHourlyStats)
	mux.HandleFunc("/api/stats/weekly_heatmap", s.handleWeeklyHeatmap)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.handleAlertAck)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/sessions/{uuid}/end", s.handleSessionEnd)
	mux.HandleFunc("PATCH /api/sessions/{uuid}", s.handleSessionNotes)
	mux.HandleFunc("DELETE /api/sessions/{uuid}", s.handleSessionDelete)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"service": "numia-vision",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"connections": s.registry.Connections(),
		"timestamp":   float64(time.Now().Unix()),
	}
	ctx := r.Context()
	payload["detector"] = s.adapter.Healthy(ctx)
	writeJSON(w, payload)
}

func (s *Server) currentStatsPayload() map[string]any {
	return map[string]any{
		"current_count": s.registry.CurrentCount(),
		"history":       s.registry.Recent(50),
		"connections":   s.registry.Connections(),
		"timestamp":     float64(time.Now().Unix()),
	}
}

func (s *Server) handleCurrentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.currentStatsPayload())
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.currentStatsPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	stats, err := s.store.Today(s.cfg.CameraID)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	buckets, err := s.store.Hourly(s.cfg.CameraID)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"hours": emptyToList(buckets)})
}

func (s *Server) handleWeeklyHeatmap(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	cells, err := s.store.WeeklyHeatmap(s.cfg.CameraID)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"cells": emptyToList(cells)})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	alerts, err := s.store.PendingAlerts(100)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	pending, _ := s.store.PendingAlertCount()
	writeJSON(w, map[string]any{
		"alerts":  emptyToList(alerts),
		"pending": pending,
	})
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid alert id"}, http.StatusBadRequest)
		return
	}
	if err := s.store.AcknowledgeAlert(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "acknowledged"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.store.ListSessions(50)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"sessions": emptyToList(sessions)})
	case http.MethodPost:
		var req struct {
			Notes string `json:"notes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		sess, err := s.store.CreateSession(s.cfg.CameraID, req.Notes)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSONWithStatus(w, sess, http.StatusCreated)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	if err := s.store.EndSession(r.PathValue("uuid")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "ended"})
}

func (s *Server) handleSessionNotes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid body"}, http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateSessionNotes(r.PathValue("uuid"), req.Notes); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "updated"})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeStoreUnavailable(w)
		return
	}
	if err := s.store.DeleteSession(r.PathValue("uuid")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "deleted"})
}

// storeSink adapts the store to the session's fire-and-forget event
// interface. Failures are logged and swallowed so a broken database
// never disturbs the streaming path.
type storeSink struct {
	store    *store.Store
	cameraID string
}

func (ss *storeSink) SaveDetection(count int, avgConfidence float64, persons []detect.Person) {
	if err := ss.store.SaveDetection(ss.cameraID, count, avgConfidence, persons); err != nil {
		logger.Warn("Server", "save detection failed: %v", err)
	}
}

func (ss *storeSink) RaiseAlert(count, threshold int) {
	if _, err := ss.store.CreateAlert(ss.cameraID, count, threshold); err != nil {
		logger.Warn("Server", "create alert failed: %v", err)
	}
}

func writeStoreUnavailable(w http.ResponseWriter) {
	writeJSONWithStatus(w, map[string]any{"error": "store unavailable"}, http.StatusServiceUnavailable)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		writeJSONWithStatus(w, map[string]any{"error": "not found"}, http.StatusNotFound)
		return
	}
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
}

// emptyToList keeps JSON responses as [] instead of null.
func emptyToList[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
