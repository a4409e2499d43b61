package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// Engine runs person detection on a raster frame. Implementations are
// constructed once at startup and shared read-only across connection
// goroutines; a call may be slow (model inference) and may fail without
// affecting the owning session.
type Engine interface {
	Detect(ctx context.Context, img image.Image) ([]RawDetection, error)
}

// HTTPEngine delegates detection to an external inference service over
// HTTP (a YOLO sidecar exposing POST /detect).
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEngine creates an engine client for the given base endpoint.
// No request timeout is set: a slow detector only slows its own session.
func NewHTTPEngine(endpoint string) *HTTPEngine {
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

type wireDetection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

type detectResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detect posts the frame as JPEG and parses the service's detection list.
func (e *HTTPEngine) Detect(ctx context.Context, img image.Image) ([]RawDetection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &EngineError{Err: fmt.Errorf("encode frame: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/detect", &buf)
	if err != nil {
		return nil, &EngineError{Err: err}
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &EngineError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &EngineError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &EngineError{Err: fmt.Errorf("decode response: %w", err)}
	}

	raws := make([]RawDetection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		raws = append(raws, RawDetection{
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			BBox: BBox{
				X1: int(d.BBox[0]),
				Y1: int(d.BBox[1]),
				X2: int(d.BBox[2]),
				Y2: int(d.BBox[3]),
			},
		})
	}
	return raws, nil
}

// Healthy reports whether the inference service answers its health probe.
func (e *HTTPEngine) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
