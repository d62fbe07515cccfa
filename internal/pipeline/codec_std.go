package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelmark/internal/domain"
)

type stdlibEncoder struct{}

func (stdlibEncoder) Encode(img image.Image, params EncodeParams) ([]byte, error) {
	var buf bytes.Buffer

	switch params.Format {
	case domain.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(params.Level)); err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", ErrProcessing, err)
		}
	case domain.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(params.Level))); err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", ErrProcessing, err)
		}
	case domain.FormatWebP:
		if err := encodeWebP(&buf, img, params.Level); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, params.Format)
	}

	return buf.Bytes(), nil
}

// pngLevel maps a zlib-style 0-9 level onto the four levels image/png offers.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
