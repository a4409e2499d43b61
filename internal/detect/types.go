package detect

// BBox is an axis-aligned bounding box in pixel space (x1<x2, y1<y2).
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BBox) Area() int { return b.Width() * b.Height() }

// Center returns the box center point.
func (b BBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// RawDetection is one unfiltered result from the detection engine.
type RawDetection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Person is one detection that survived the filtering policy.
// IDs are sequential and 1-based within the frame; confidence is
// rounded to 2 decimals.
type Person struct {
	ID         int     `json:"id"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}
