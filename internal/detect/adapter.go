package detect

import (
	"context"
	"image"
	"time"

	"github.com/numia-vision/vision-server/internal/logger"
	"github.com/numia-vision/vision-server/internal/metrics"
)

// Adapter isolates the wire representation of frames from the detection
// engine's raster contract and applies the filtering policy to raw output.
type Adapter struct {
	engine  Engine
	metrics *metrics.Metrics
}

// NewAdapter wires an engine and a metrics sink into an adapter.
func NewAdapter(engine Engine, m *metrics.Metrics) *Adapter {
	return &Adapter{engine: engine, metrics: m}
}

// ProcessFrame decodes a wire frame, runs detection, and filters the
// result. A decode failure returns (*DecodeError); an engine failure is
// logged and converted to an empty detection set, never propagated.
func (a *Adapter) ProcessFrame(ctx context.Context, payload string) (image.Image, []Person, error) {
	img, err := DecodeFrame(payload)
	if err != nil {
		if a.metrics != nil {
			a.metrics.DecodeErrors.Add(1)
		}
		return nil, nil, err
	}

	start := time.Now()
	raws, err := a.engine.Detect(ctx, img)
	if a.metrics != nil {
		a.metrics.UpdateDetectLatency(time.Since(start))
	}
	if err != nil {
		logger.Warn("Detect", "engine failure, treating frame as empty: %v", err)
		if a.metrics != nil {
			a.metrics.DetectErrors.Add(1)
		}
		return img, nil, nil
	}

	persons := ApplyFilters(raws)
	if a.metrics != nil {
		a.metrics.DetectionsTotal.Add(uint64(len(persons)))
	}
	return img, persons, nil
}

// Healthy reports whether the underlying engine is reachable. Engines
// without a health probe are assumed healthy.
func (a *Adapter) Healthy(ctx context.Context) bool {
	probe, ok := a.engine.(interface{ Healthy(context.Context) bool })
	if !ok {
		return true
	}
	return probe.Healthy(ctx)
}
