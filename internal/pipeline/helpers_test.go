package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func solidPNG(tb testing.TB, w, h int, c color.NRGBA) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h, c)); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodePNG(tb testing.TB, data []byte) image.Image {
	tb.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("decode png: %v", err)
	}
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}

func assertColor(t *testing.T, img image.Image, x, y int, want color.NRGBA) {
	t.Helper()

	if got := nrgbaAt(img, x, y); got != want {
		t.Fatalf("pixel (%d,%d) = %+v, want %+v", x, y, got, want)
	}
}
