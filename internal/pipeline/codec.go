package pipeline

import (
	"image"

	"github.com/dunamismax/pixelmark/internal/domain"
)

const DefaultPNGCompression = 3

// Encoder turns a finished canvas into the bytes of the requested format.
type Encoder interface {
	Encode(img image.Image, params EncodeParams) ([]byte, error)
}

// EncodeParams carries the codec settings for one output. Level is the
// quality (1-100) for JPEG and WebP and the zlib compression level (0-9) for
// PNG.
type EncodeParams struct {
	Format domain.ImageFormat
	Level  int
}

// encodeParams picks codec settings for a request. PNG ignores the requested
// quality and always uses the server's compression level.
func encodeParams(format domain.ImageFormat, quality, pngCompression int) EncodeParams {
	if format == domain.FormatPNG {
		return EncodeParams{Format: format, Level: clamp(pngCompression, 0, 9)}
	}
	return EncodeParams{Format: format, Level: clamp(quality, 1, 100)}
}
