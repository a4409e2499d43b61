package detect

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorPerson = color.RGBA{R: 150, G: 200, B: 0, A: 255} // brand green
	colorWhite  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBlack  = color.RGBA{A: 255}
)

const (
	boxThickness    = 2
	cornerLength    = 15
	cornerThickness = 3
)

// Annotate draws the detections onto a copy of the frame: bounding boxes
// with highlighted corners, per-person labels, and a count panel.
func Annotate(src image.Image, persons []Person) *image.RGBA {
	bounds := src.Bounds()
	frame := image.NewRGBA(bounds)
	draw.Draw(frame, bounds, src, bounds.Min, draw.Src)

	for _, p := range persons {
		drawBox(frame, p.BBox)
		drawCorners(frame, p.BBox)
		drawLabel(frame, p)
	}

	drawCounterPanel(frame, len(persons))
	return frame
}

func drawBox(frame *image.RGBA, b BBox) {
	fillRect(frame, b.X1, b.Y1, b.X2, b.Y1+boxThickness, colorPerson)
	fillRect(frame, b.X1, b.Y2-boxThickness, b.X2, b.Y2, colorPerson)
	fillRect(frame, b.X1, b.Y1, b.X1+boxThickness, b.Y2, colorPerson)
	fillRect(frame, b.X2-boxThickness, b.Y1, b.X2, b.Y2, colorPerson)
}

func drawCorners(frame *image.RGBA, b BBox) {
	t := cornerThickness
	l := cornerLength
	// Top-left
	fillRect(frame, b.X1, b.Y1, b.X1+l, b.Y1+t, colorPerson)
	fillRect(frame, b.X1, b.Y1, b.X1+t, b.Y1+l, colorPerson)
	// Top-right
	fillRect(frame, b.X2-l, b.Y1, b.X2, b.Y1+t, colorPerson)
	fillRect(frame, b.X2-t, b.Y1, b.X2, b.Y1+l, colorPerson)
	// Bottom-left
	fillRect(frame, b.X1, b.Y2-t, b.X1+l, b.Y2, colorPerson)
	fillRect(frame, b.X1, b.Y2-l, b.X1+t, b.Y2, colorPerson)
	// Bottom-right
	fillRect(frame, b.X2-l, b.Y2-t, b.X2, b.Y2, colorPerson)
	fillRect(frame, b.X2-t, b.Y2-l, b.X2, b.Y2, colorPerson)
}

func drawLabel(frame *image.RGBA, p Person) {
	label := fmt.Sprintf("#%d (%d%%)", p.ID, int(p.Confidence*100))
	w := textWidth(label)
	fillRect(frame, p.BBox.X1, p.BBox.Y1-22, p.BBox.X1+w+8, p.BBox.Y1, colorPerson)
	drawText(frame, p.BBox.X1+4, p.BBox.Y1-8, label, colorWhite)
}

func drawCounterPanel(frame *image.RGBA, count int) {
	fillRect(frame, 10, 10, 200, 70, colorBlack)
	drawBox(frame, BBox{X1: 10, Y1: 10, X2: 200, Y2: 70})
	drawText(frame, 20, 32, "NUMIA VISION", colorPerson)
	drawText(frame, 20, 55, fmt.Sprintf("Personas: %d", count), colorWhite)
}

func fillRect(frame *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	r := image.Rect(x1, y1, x2, y2).Intersect(frame.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(frame, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func drawText(frame *image.RGBA, x, y int, text string, c color.RGBA) {
	d := font.Drawer{
		Dst:  frame,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func textWidth(text string) int {
	d := font.Drawer{Face: basicfont.Face7x13}
	return d.MeasureString(text).Ceil()
}
