//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelmark/internal/domain"
)

type govipsEncoder struct{}

func (govipsEncoder) Encode(img image.Image, params EncodeParams) ([]byte, error) {
	ref, err := vipsImage(img)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	switch params.Format {
	case domain.FormatJPEG:
		p := vips.NewJpegExportParams()
		p.Quality = params.Level
		data, _, err := ref.ExportJpeg(p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", ErrProcessing, err)
		}
		return data, nil
	case domain.FormatPNG:
		p := vips.NewPngExportParams()
		p.Compression = params.Level
		data, _, err := ref.ExportPng(p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", ErrProcessing, err)
		}
		return data, nil
	case domain.FormatWebP:
		p := vips.NewWebpExportParams()
		p.Quality = params.Level
		data, _, err := ref.ExportWebp(p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", ErrProcessing, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, params.Format)
	}
}

// vipsImage hands a decoded canvas to libvips through an uncompressed PNG.
func vipsImage(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: stage canvas: %v", ErrProcessing, err)
	}
	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: load canvas: %v", ErrProcessing, err)
	}
	return ref, nil
}
