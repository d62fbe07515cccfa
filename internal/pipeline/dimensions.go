package pipeline

import (
	"fmt"

	"github.com/dunamismax/pixelmark/internal/domain"
)

// TargetSize fits an image of width x height into the desired box while
// keeping its aspect ratio. Images are never upscaled past the box: when the
// request is larger than the original on every constrained axis the original
// size is returned unchanged. Fractional results truncate toward zero.
func TargetSize(width, height int, desired domain.Size) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: source is %dx%d", ErrDecode, width, height)
	}
	if desired.IsZero() {
		return width, height, nil
	}
	if err := desired.Validate(); err != nil {
		return 0, 0, err
	}

	switch {
	case desired.Width != nil && desired.Height != nil:
		w, h := *desired.Width, *desired.Height
		if w > width && h > height {
			return width, height, nil
		}
		rh := float32(h) / float32(height)
		rw := float32(w) / float32(width)
		if rh < rw && rh <= 1 {
			return scaleDim(width, rh), h, nil
		}
		return w, scaleDim(height, rw), nil
	case desired.Height != nil:
		h := *desired.Height
		if h > height {
			return width, height, nil
		}
		return scaleDim(width, float32(h)/float32(height)), h, nil
	default:
		w := *desired.Width
		if w > width {
			return width, height, nil
		}
		return w, scaleDim(height, float32(w)/float32(width)), nil
	}
}

func scaleDim(v int, ratio float32) int {
	return max(1, int(float32(v)*ratio))
}
