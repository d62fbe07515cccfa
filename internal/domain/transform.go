package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidSize    = errors.New("invalid size")
	ErrInvalidRequest = errors.New("invalid request")
)

// Size is a desired target box. A nil dimension leaves that axis unconstrained.
type Size struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// Dim returns a pointer to v for use in Size literals.
func Dim(v int) *int {
	return &v
}

func (s Size) IsZero() bool {
	return s.Width == nil && s.Height == nil
}

// Validate rejects any explicit dimension that is not strictly positive.
func (s Size) Validate() error {
	if s.Width != nil && *s.Width <= 0 {
		return fmt.Errorf("%w: width must be positive, got %d", ErrInvalidSize, *s.Width)
	}
	if s.Height != nil && *s.Height <= 0 {
		return fmt.Errorf("%w: height must be positive, got %d", ErrInvalidSize, *s.Height)
	}
	return nil
}

func (s Size) String() string {
	return fmt.Sprintf("%sx%s", dimString(s.Width), dimString(s.Height))
}

func dimString(v *int) string {
	if v == nil {
		return "_"
	}
	return strconv.Itoa(*v)
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// OriginPolicy decides how a watermark's anchor Point is interpreted.
type OriginPolicy int

const (
	OriginLeftTop OriginPolicy = iota
	OriginCenter
	OriginRightBottom
)

func ParseOriginPolicy(s string) (OriginPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lefttop", "left_top", "left-top":
		return OriginLeftTop, nil
	case "center", "centre":
		return OriginCenter, nil
	case "rightbottom", "right_bottom", "right-bottom":
		return OriginRightBottom, nil
	default:
		return OriginLeftTop, fmt.Errorf("%w: unknown origin %q", ErrInvalidRequest, s)
	}
}

func (o OriginPolicy) String() string {
	switch o {
	case OriginCenter:
		return "Center"
	case OriginRightBottom:
		return "RightBottom"
	default:
		return "LeftTop"
	}
}

func (o OriginPolicy) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OriginPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOriginPolicy(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Rotation is a clockwise rotation applied to the base image after resizing.
// The zero value means no rotation.
type Rotation int

const (
	RotateNone Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "r0", "0":
		return RotateNone, nil
	case "r90", "90":
		return Rotate90, nil
	case "r180", "180":
		return Rotate180, nil
	case "r270", "270":
		return Rotate270, nil
	default:
		return RotateNone, fmt.Errorf("%w: unknown rotation %q", ErrInvalidRequest, s)
	}
}

func (r Rotation) String() string {
	switch r {
	case Rotate90:
		return "R90"
	case Rotate180:
		return "R180"
	case Rotate270:
		return "R270"
	default:
		return ""
	}
}

func (r Rotation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rotation) UnmarshalText(text []byte) error {
	parsed, err := ParseRotation(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ImageFormat selects the output codec.
type ImageFormat int

const (
	FormatJPEG ImageFormat = iota
	FormatPNG
	FormatWebP
)

func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return FormatJPEG, fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, s)
	}
}

func (f ImageFormat) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatJPEG:
		return "jpeg"
	default:
		return "format(" + strconv.Itoa(int(f)) + ")"
	}
}

func (f ImageFormat) MediaType() string {
	return "image/" + f.String()
}

func (f ImageFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *ImageFormat) UnmarshalText(text []byte) error {
	parsed, err := ParseImageFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Watermark describes one overlay layer. Key addresses the layer's bytes in
// the asset store.
type Watermark struct {
	Key      string       `json:"key"`
	Size     Size         `json:"size"`
	Origin   OriginPolicy `json:"origin"`
	Position Point        `json:"position"`
	Alpha    float64      `json:"alpha"`
}

// Opacity returns Alpha clamped to [0, 1]. NaN is treated as fully transparent.
func (w Watermark) Opacity() float64 {
	if math.IsNaN(w.Alpha) {
		return 0
	}
	return math.Min(1, math.Max(0, w.Alpha))
}

// TransformRequest fully describes one transformation. Watermarks are
// composited in slice order.
type TransformRequest struct {
	Key        string      `json:"key"`
	Size       Size        `json:"size"`
	Format     ImageFormat `json:"format"`
	Quality    int         `json:"quality"`
	Rotation   Rotation    `json:"rotation,omitempty"`
	Watermarks []Watermark `json:"watermarks,omitempty"`
}

// Validate checks the request before any asset is fetched. maxWatermarks <= 0
// disables the layer count limit.
func (r TransformRequest) Validate(maxWatermarks int) error {
	if strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	if err := r.Size.Validate(); err != nil {
		return fmt.Errorf("size: %w", err)
	}
	if r.Format != FormatPNG && (r.Quality < 1 || r.Quality > 100) {
		return fmt.Errorf("%w: quality must be between 1 and 100, got %d", ErrInvalidRequest, r.Quality)
	}
	if maxWatermarks > 0 && len(r.Watermarks) > maxWatermarks {
		return fmt.Errorf("%w: at most %d watermarks are allowed, got %d", ErrInvalidRequest, maxWatermarks, len(r.Watermarks))
	}
	for i, wm := range r.Watermarks {
		if strings.TrimSpace(wm.Key) == "" {
			return fmt.Errorf("%w: watermarks[%d].key is required", ErrInvalidRequest, i)
		}
		if err := wm.Size.Validate(); err != nil {
			return fmt.Errorf("watermarks[%d].size: %w", i, err)
		}
	}
	return nil
}
