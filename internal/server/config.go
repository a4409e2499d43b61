package server

import "time"

// Config defines the runtime configuration of the vision server.
type Config struct {
	Addr             string
	MetricsAddr      string
	DetectorEndpoint string
	DatabasePath     string
	CameraID         string
	AlertThreshold   int
	StatsInterval    time.Duration
}

// DefaultConfig returns the configuration used when no flags override it.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8000",
		MetricsAddr:      ":9090",
		DetectorEndpoint: "http://localhost:8501",
		DatabasePath:     "./numia_vision.db",
		CameraID:         "default",
		AlertThreshold:   10,
		StatsInterval:    2 * time.Second,
	}
}
