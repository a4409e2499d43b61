package session

import (
	"encoding/json"
	"fmt"

	"github.com/numia-vision/vision-server/internal/detect"
	"github.com/numia-vision/vision-server/internal/heatmap"
)

// Kind is the closed set of inbound message kinds. Unknown
// discriminators map to KindUnrecognized and are handled by the default
// branch (log and continue), never a crash.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindFrame
	KindPing
	KindInitHeatmap
	KindResetHeatmap
	KindGetFinalHeatmap
	KindStopHeatmap
)

// Default heatmap grid size when init_heatmap carries neither a
// reference image nor explicit dimensions.
const (
	defaultHeatmapWidth  = 640
	defaultHeatmapHeight = 480
)

// Message is one parsed inbound message.
type Message struct {
	Kind           Kind
	Type           string // raw discriminator, kept for logging
	Frame          string
	ReferenceImage string
	Width          int
	Height         int
}

// ParseError reports an inbound payload that is not structurally valid.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse message: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// ParseMessage classifies a raw payload by its type discriminator.
func ParseMessage(raw []byte) (Message, error) {
	var wire struct {
		Type           string `json:"type"`
		Frame          string `json:"frame"`
		ReferenceImage string `json:"reference_image"`
		Width          int    `json:"width"`
		Height         int    `json:"height"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Message{}, &ParseError{Err: err}
	}

	msg := Message{
		Type:           wire.Type,
		Frame:          wire.Frame,
		ReferenceImage: wire.ReferenceImage,
		Width:          wire.Width,
		Height:         wire.Height,
	}

	switch wire.Type {
	case "frame":
		msg.Kind = KindFrame
	case "ping":
		msg.Kind = KindPing
	case "init_heatmap":
		msg.Kind = KindInitHeatmap
	case "reset_heatmap":
		msg.Kind = KindResetHeatmap
	case "get_final_heatmap":
		msg.Kind = KindGetFinalHeatmap
	case "stop_heatmap":
		msg.Kind = KindStopHeatmap
	default:
		msg.Kind = KindUnrecognized
	}
	return msg, nil
}

// Outbound message shapes. Type carries the wire discriminator.

// DetectionResponse answers a counting-mode frame.
type DetectionResponse struct {
	Type      string          `json:"type"` // "detection"
	Count     int             `json:"count"`
	Persons   []detect.Person `json:"persons"`
	Frame     string          `json:"frame"`
	Timestamp string          `json:"timestamp"`
	History   []CountSample   `json:"history"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Type string `json:"type"` // "pong"
}

// AckResponse acknowledges init_heatmap and reset_heatmap.
type AckResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"` // "ok"
}

// ErrorResponse reports a per-message failure without closing the
// connection.
type ErrorResponse struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// HeatmapUpdateResponse answers a heatmap-mode frame with counts, the
// annotated frame, the current overlay, and accumulator stats.
type HeatmapUpdateResponse struct {
	Type      string          `json:"type"` // "heatmap_update"
	Count     int             `json:"count"`
	Persons   []detect.Person `json:"persons"`
	Frame     string          `json:"frame"`
	Heatmap   *string         `json:"heatmap"`
	Stats     heatmap.Stats   `json:"stats"`
	Timestamp string          `json:"timestamp"`
}

// SnapshotResponse carries a final heatmap render; Type is
// "final_heatmap" or "heatmap_stopped".
type SnapshotResponse struct {
	Type    string        `json:"type"`
	Heatmap *string       `json:"heatmap"`
	Stats   heatmap.Stats `json:"stats"`
}
