// Package heatmap maintains the spatial intensity of historical person
// detections and renders human-viewable overlays onto a reference frame.
package heatmap

import (
	"image"
	"image/draw"
	"math"

	"github.com/numia-vision/vision-server/internal/detect"
)

// Mode selects how a detection's weight is distributed over its box.
type Mode int

const (
	// FoldUniform adds a fixed unit weight to every cell in the box.
	// This is the default fast path.
	FoldUniform Mode = iota
	// FoldGaussian distributes weight by normalized distance from the
	// box center: exp(-(dx²+dy²)/2). Strictly slower than FoldUniform.
	FoldGaussian
)

// Point is a grid coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Stats summarizes the accumulator for wire responses.
type Stats struct {
	TotalDetections int     `json:"total_detections"`
	FramesProcessed int     `json:"frames_processed"`
	HottestZone     *Point  `json:"hottest_zone"`
	CoveragePercent float64 `json:"coverage_percent"`
	MaxIntensity    float64 `json:"max_intensity"`
}

// Accumulator owns a dense 2-D grid of non-negative intensities plus an
// optional reference raster. It is exclusively owned by one session
// goroutine; callers only ever see rendered snapshots or stats, never
// the grid itself.
type Accumulator struct {
	width  int
	height int
	grid   []float64
	mode   Mode

	reference *image.RGBA // nil until bound

	totalDetections int
	framesProcessed int
}

// New creates an accumulator with an explicit grid size and no
// reference image yet.
func New(width, height int) *Accumulator {
	return &Accumulator{
		width:  width,
		height: height,
		grid:   make([]float64, width*height),
	}
}

// NewFromImage creates an accumulator sized to the reference image and
// binds it immediately.
func NewFromImage(ref image.Image) *Accumulator {
	b := ref.Bounds()
	a := New(b.Dx(), b.Dy())
	a.BindReference(ref)
	return a
}

// Size returns the grid dimensions.
func (a *Accumulator) Size() (width, height int) {
	return a.width, a.height
}

// SetMode switches the weighting mode for subsequent folds.
func (a *Accumulator) SetMode(m Mode) { a.mode = m }

// HasReference reports whether a reference image has been bound.
func (a *Accumulator) HasReference() bool { return a.reference != nil }

// BindReference stores a copy of the image as the overlay background.
// The grid keeps its own dimensions; the image is drawn at grid size.
func (a *Accumulator) BindReference(ref image.Image) {
	canvas := image.NewRGBA(image.Rect(0, 0, a.width, a.height))
	draw.Draw(canvas, canvas.Bounds(), ref, ref.Bounds().Min, draw.Src)
	a.reference = canvas
}

// Fold adds one frame's filtered detections into the grid. Every call
// counts as one processed frame, even with zero detections. Each
// detection whose clipped box has positive area increments the
// detection counter once and adds weight to the covered cells.
func (a *Accumulator) Fold(persons []detect.Person) {
	a.framesProcessed++

	for _, p := range persons {
		x1, y1, x2, y2 := clip(p.BBox, a.width, a.height)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		switch a.mode {
		case FoldGaussian:
			a.foldGaussian(p.BBox, x1, y1, x2, y2)
		default:
			a.foldUniform(x1, y1, x2, y2)
		}
		a.totalDetections++
	}
}

func (a *Accumulator) foldUniform(x1, y1, x2, y2 int) {
	for y := y1; y < y2; y++ {
		row := y * a.width
		for x := x1; x < x2; x++ {
			a.grid[row+x]++
		}
	}
}

func (a *Accumulator) foldGaussian(box detect.BBox, x1, y1, x2, y2 int) {
	cx, cy := box.Center()
	halfW := float64(box.Width()) / 2
	halfH := float64(box.Height()) / 2
	if halfW <= 0 || halfH <= 0 {
		return
	}

	for y := y1; y < y2; y++ {
		dy := (float64(y) - float64(cy)) / halfH
		row := y * a.width
		for x := x1; x < x2; x++ {
			dx := (float64(x) - float64(cx)) / halfW
			a.grid[row+x] += math.Exp(-(dx*dx + dy*dy) / 2)
		}
	}
}

// Reset zeroes the grid and both counters. The reference image is
// retained.
func (a *Accumulator) Reset() {
	for i := range a.grid {
		a.grid[i] = 0
	}
	a.totalDetections = 0
	a.framesProcessed = 0
}

// Stats reports the accumulator's counters, hottest cell, and coverage.
func (a *Accumulator) Stats() Stats {
	s := Stats{
		TotalDetections: a.totalDetections,
		FramesProcessed: a.framesProcessed,
	}

	maxVal := 0.0
	maxIdx := -1
	covered := 0
	for i, v := range a.grid {
		if v > 0 {
			covered++
		}
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}

	if maxIdx < 0 {
		return s
	}

	s.MaxIntensity = maxVal
	s.HottestZone = &Point{X: maxIdx % a.width, Y: maxIdx / a.width}
	s.CoveragePercent = math.Round(float64(covered)/float64(len(a.grid))*1000) / 10
	return s
}

func (a *Accumulator) maxCell() float64 {
	max := 0.0
	for _, v := range a.grid {
		if v > max {
			max = v
		}
	}
	return max
}

func clip(b detect.BBox, width, height int) (x1, y1, x2, y2 int) {
	x1, y1, x2, y2 = b.X1, b.Y1, b.X2, b.Y2
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > width {
		x2 = width
	}
	if y2 > height {
		y2 = height
	}
	return x1, y1, x2, y2
}
