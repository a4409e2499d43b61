package heatmap

import (
	"image"
	"image/color"
	"image/draw"
)

const (
	// maskThreshold excludes near-zero cells from the overlay so
	// untouched regions show the unmodified reference image.
	maskThreshold = 10
	blurRadius    = 4
)

// UpdateBlend is the overlay weight used for live heatmap_update
// renders; FinalBlend is the stronger weight used for final snapshots.
const (
	UpdateBlend = 0.4
	FinalBlend  = 0.7
)

// Render produces the heatmap overlay composited onto the reference
// image (or a blank canvas if none is bound). blend weights the
// colorized field against the reference inside the mask. Render never
// mutates accumulator state: calling it twice without an intervening
// Fold yields identical output.
func (a *Accumulator) Render(blend float64) *image.RGBA {
	base := a.baseCanvas()

	max := a.maxCell()
	if max == 0 {
		return base
	}

	// Normalize linearly so the hottest cell maps to 255.
	field := make([]float64, len(a.grid))
	for i, v := range a.grid {
		field[i] = v / max * 255
	}

	// Two box passes approximate a Gaussian and remove blocky edges.
	field = boxBlur(field, a.width, a.height, blurRadius)
	field = boxBlur(field, a.width, a.height, blurRadius)

	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

	inv := 1 - blend
	for y := 0; y < a.height; y++ {
		row := y * a.width
		for x := 0; x < a.width; x++ {
			v := field[row+x]
			if v <= maskThreshold {
				continue
			}
			hot := gradient(v)
			off := out.PixOffset(x, y)
			out.Pix[off+0] = mix(hot.R, out.Pix[off+0], blend, inv)
			out.Pix[off+1] = mix(hot.G, out.Pix[off+1], blend, inv)
			out.Pix[off+2] = mix(hot.B, out.Pix[off+2], blend, inv)
		}
	}
	return out
}

func (a *Accumulator) baseCanvas() *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, a.width, a.height))
	if a.reference != nil {
		draw.Draw(canvas, canvas.Bounds(), a.reference, image.Point{}, draw.Src)
	}
	return canvas
}

func mix(hot, ref uint8, blend, inv float64) uint8 {
	v := float64(hot)*blend + float64(ref)*inv
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}

// gradient maps a 0..255 intensity through a cold-to-hot ramp:
// blue -> cyan -> green -> yellow -> red.
func gradient(v float64) color.RGBA {
	switch {
	case v < 64:
		return color.RGBA{R: 0, G: ramp(v, 0, 64), B: 255, A: 255}
	case v < 128:
		return color.RGBA{R: 0, G: 255, B: 255 - ramp(v, 64, 128), A: 255}
	case v < 192:
		return color.RGBA{R: ramp(v, 128, 192), G: 255, B: 0, A: 255}
	default:
		return color.RGBA{R: 255, G: 255 - ramp(v, 192, 256), B: 0, A: 255}
	}
}

func ramp(v, lo, hi float64) uint8 {
	t := (v - lo) / (hi - lo) * 255
	if t < 0 {
		t = 0
	}
	if t > 255 {
		t = 255
	}
	return uint8(t)
}

// boxBlur applies a separable box filter of the given radius.
func boxBlur(src []float64, width, height, radius int) []float64 {
	tmp := make([]float64, len(src))
	dst := make([]float64, len(src))

	// Horizontal pass.
	for y := 0; y < height; y++ {
		row := y * width
		for x := 0; x < width; x++ {
			sum := 0.0
			n := 0
			for k := -radius; k <= radius; k++ {
				xx := x + k
				if xx < 0 || xx >= width {
					continue
				}
				sum += src[row+xx]
				n++
			}
			tmp[row+x] = sum / float64(n)
		}
	}

	// Vertical pass.
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := 0.0
			n := 0
			for k := -radius; k <= radius; k++ {
				yy := y + k
				if yy < 0 || yy >= height {
					continue
				}
				sum += tmp[yy*width+x]
				n++
			}
			dst[y*width+x] = sum / float64(n)
		}
	}

	return dst
}
