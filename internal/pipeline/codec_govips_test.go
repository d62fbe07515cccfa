//go:build govips && cgo

package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelmark/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/image/webp"
)

func startVips(t *testing.T) {
	t.Helper()

	if err := Startup(zap.NewNop()); err != nil {
		t.Fatalf("start libvips: %v", err)
	}
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestGovipsEncoderFormats(t *testing.T) {
	startVips(t)

	decoders := map[domain.ImageFormat]func([]byte) (image.Config, error){
		domain.FormatJPEG: func(b []byte) (image.Config, error) { return jpeg.DecodeConfig(bytes.NewReader(b)) },
		domain.FormatPNG:  func(b []byte) (image.Config, error) { return png.DecodeConfig(bytes.NewReader(b)) },
		domain.FormatWebP: func(b []byte) (image.Config, error) { return webp.DecodeConfig(bytes.NewReader(b)) },
	}

	for format, decode := range decoders {
		t.Run(format.String(), func(t *testing.T) {
			data, err := govipsEncoder{}.Encode(solidImage(24, 12, blue), encodeParams(format, 80, DefaultPNGCompression))
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			cfg, err := decode(data)
			if err != nil {
				t.Fatalf("decode config: %v", err)
			}
			if cfg.Width != 24 || cfg.Height != 12 {
				t.Fatalf("output is %dx%d, want 24x12", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestGovipsEncoderPNGCompression(t *testing.T) {
	startVips(t)

	img := gradient(128, 128)
	stored, err := govipsEncoder{}.Encode(img, EncodeParams{Format: domain.FormatPNG, Level: 0})
	if err != nil {
		t.Fatalf("encode level 0: %v", err)
	}
	packed, err := govipsEncoder{}.Encode(img, EncodeParams{Format: domain.FormatPNG, Level: 9})
	if err != nil {
		t.Fatalf("encode level 9: %v", err)
	}
	if len(packed) >= len(stored) {
		t.Fatalf("level 9 output (%d bytes) is not smaller than level 0 (%d bytes)", len(packed), len(stored))
	}

	decoded, err := png.Decode(bytes.NewReader(packed))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := nrgbaAt(decoded, 64, 0); got != img.NRGBAAt(64, 0) {
		t.Fatalf("pixel (64,0) = %+v, want %+v", got, img.NRGBAAt(64, 0))
	}
}

func TestGovipsEncoderUnsupportedFormat(t *testing.T) {
	startVips(t)

	_, err := govipsEncoder{}.Encode(solidImage(2, 2, red), EncodeParams{Format: domain.ImageFormat(42)})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
