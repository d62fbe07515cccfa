package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelmark/internal/domain"
	_ "golang.org/x/image/webp"
)

func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, nil
}

// Resize scales img to the size TargetSize resolves for it.
func Resize(img image.Image, desired domain.Size) (image.Image, error) {
	b := img.Bounds()
	w, h, err := TargetSize(b.Dx(), b.Dy(), desired)
	if err != nil {
		return nil, err
	}
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Linear), nil
}

// Rotate turns the canvas clockwise by r.
func Rotate(img image.Image, r domain.Rotation) image.Image {
	switch r {
	case domain.Rotate90:
		return imaging.FlipH(imaging.Transpose(img))
	case domain.Rotate180:
		return imaging.Rotate180(img)
	case domain.Rotate270:
		return imaging.FlipV(imaging.Transpose(img))
	default:
		return img
	}
}

// Composite decodes one watermark layer, sizes it from its own dimensions and
// blends it onto canvas. The canvas keeps its size.
func Composite(canvas image.Image, layer []byte, wm domain.Watermark) (image.Image, error) {
	mark, err := decodeImage(layer)
	if err != nil {
		return nil, fmt.Errorf("watermark %s: %w", wm.Key, err)
	}
	mark, err = Resize(mark, wm.Size)
	if err != nil {
		return nil, fmt.Errorf("watermark %s: %w", wm.Key, err)
	}
	return overlay(canvas, mark, wm), nil
}

func overlay(canvas, mark image.Image, wm domain.Watermark) image.Image {
	cb := canvas.Bounds()
	mb := mark.Bounds()
	if mb.Dx() > cb.Dx() || mb.Dy() > cb.Dy() {
		mark = imaging.Crop(mark, image.Rect(
			mb.Min.X, mb.Min.Y,
			mb.Min.X+min(mb.Dx(), cb.Dx()), mb.Min.Y+min(mb.Dy(), cb.Dy()),
		))
		mb = mark.Bounds()
	}

	opacity := wm.Opacity()
	if opacity == 0 {
		return canvas
	}

	borders := Place(cb.Dx(), cb.Dy(), mb.Dx(), mb.Dy(), wm.Position, wm.Origin)
	return imaging.Overlay(canvas, fade(mark, opacity), borders.Offset(), 1.0)
}

// fade scales every pixel's alpha by opacity, keeping the layer's own
// transparency.
func fade(mark image.Image, opacity float64) *image.NRGBA {
	b := mark.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, dst.Bounds(), mark, b.Min, mask, image.Point{}, draw.Over)
	return dst
}
