package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/numia-vision/vision-server/internal/detect"
	"github.com/numia-vision/vision-server/internal/logger"
	"github.com/numia-vision/vision-server/internal/metrics"
	"github.com/numia-vision/vision-server/internal/server"
	"github.com/numia-vision/vision-server/internal/store"
)

var (
	// Command-line flags
	httpAddr       = flag.String("http", ":8000", "HTTP server address")
	metricsAddr    = flag.String("metrics", ":9090", "Metrics server address")
	detector       = flag.String("detector", "http://localhost:8501", "Detection engine base URL")
	dbPath         = flag.String("db", "./numia_vision.db", "SQLite database path (empty to disable persistence)")
	cameraID       = flag.String("camera", "default", "Camera identifier for persisted events")
	alertThreshold = flag.Int("alert-threshold", 10, "Person count above which alerts fire (0 disables)")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor       = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Vision server starting...")
	logger.Info("Main", "Log level: %s", level)

	m := metrics.New()
	go func() {
		logger.Info("Main", "Metrics server on %s", *metricsAddr)
		if err := m.StartServer(*metricsAddr); err != nil {
			logger.Error("Main", "Metrics server failed: %v", err)
		}
	}()

	// Persistence is best effort. A missing or broken database leaves
	// the streaming path fully functional.
	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			logger.Warn("Main", "Persistence disabled: %v", err)
			st = nil
		}
	}

	engine := detect.NewHTTPEngine(*detector)
	adapter := detect.NewAdapter(engine, m)

	cfg := server.DefaultConfig()
	cfg.Addr = *httpAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.DetectorEndpoint = *detector
	cfg.DatabasePath = *dbPath
	cfg.CameraID = *cameraID
	cfg.AlertThreshold = *alertThreshold

	srv := server.NewServer(cfg, adapter, m, st)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("Main", "HTTP server on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logger.Error("Main", "Error closing store: %v", err)
		}
	}

	logger.Info("Main", "Server stopped")
}
