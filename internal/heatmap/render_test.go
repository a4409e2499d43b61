package heatmap

import (
	"bytes"
	"image"
	"testing"

	"github.com/numia-vision/vision-server/internal/detect"
)

func TestRenderEmptyGridReturnsReference(t *testing.T) {
	ref := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range ref.Pix {
		ref.Pix[i] = 200
	}
	a := NewFromImage(ref)

	out := a.Render(UpdateBlend)
	if !bytes.Equal(out.Pix, ref.Pix) {
		t.Fatal("render of empty grid altered the reference image")
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	a := New(64, 64)
	a.Fold([]detect.Person{person(10, 10, 40, 40)})

	first := a.Render(FinalBlend)
	second := a.Render(FinalBlend)

	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("two renders without an intervening fold differ")
	}
	// Render must not mutate the grid either.
	if got := a.Stats().MaxIntensity; got != 1 {
		t.Fatalf("max intensity after render = %v, want 1", got)
	}
}

func TestRenderColorsHotRegionOnly(t *testing.T) {
	a := New(64, 64)
	for i := 0; i < 20; i++ {
		a.Fold([]detect.Person{person(20, 20, 44, 44)})
	}

	out := a.Render(FinalBlend)

	hot := out.RGBAAt(32, 32)
	if hot.R == 0 && hot.G == 0 && hot.B == 0 {
		t.Fatalf("hot center pixel still black: %+v", hot)
	}
	// Far corner is at least blur+mask distance from the box.
	cold := out.RGBAAt(1, 1)
	if cold.R != 0 || cold.G != 0 || cold.B != 0 {
		t.Fatalf("cold corner pixel colored: %+v", cold)
	}
}

func TestGradientEndpoints(t *testing.T) {
	low := gradient(0)
	if low.B != 255 || low.R != 0 {
		t.Fatalf("gradient(0) = %+v, want blue", low)
	}
	high := gradient(255)
	if high.R != 255 || high.B != 0 {
		t.Fatalf("gradient(255) = %+v, want red", high)
	}
}

func TestBoxBlurPreservesUniformField(t *testing.T) {
	w, h := 16, 16
	src := make([]float64, w*h)
	for i := range src {
		src[i] = 7
	}
	dst := boxBlur(src, w, h, 3)
	for i, v := range dst {
		if v < 6.999 || v > 7.001 {
			t.Fatalf("cell %d = %v, want 7", i, v)
		}
	}
}
