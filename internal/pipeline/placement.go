package pipeline

import (
	"image"

	"github.com/dunamismax/pixelmark/internal/domain"
)

// Borders are the margins left around a placed watermark. Left+mark+Right
// always equals the base width, and Top+mark+Bottom the base height.
type Borders struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

func (b Borders) Offset() image.Point {
	return image.Pt(b.Left, b.Top)
}

// Place positions a markW x markH layer on a baseW x baseH canvas. Anchors
// that would push the mark past an edge are pulled back inside the canvas.
// A mark larger than the base on some axis is treated as spanning that axis.
func Place(baseW, baseH, markW, markH int, anchor domain.Point, origin domain.OriginPolicy) Borders {
	markW = min(markW, baseW)
	markH = min(markH, baseH)

	var b Borders
	b.Left, b.Right = placeAxis(baseW, markW, anchor.X, origin)
	b.Top, b.Bottom = placeAxis(baseH, markH, anchor.Y, origin)
	return b
}

// placeAxis returns the leading and trailing margins for one axis.
func placeAxis(base, mark, anchor int, origin domain.OriginPolicy) (int, int) {
	free := base - mark
	switch origin {
	case domain.OriginCenter:
		lead := base/2 - mark/2
		return lead, free - lead
	case domain.OriginRightBottom:
		trail := clamp(anchor, 0, free)
		return free - trail, trail
	default:
		lead := clamp(anchor, 0, free)
		return lead, free - lead
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
