package api

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelmark/internal/domain"
)

// Defaults fill in whatever a request leaves out.
type Defaults struct {
	Format  domain.ImageFormat
	Quality int
	Origin  domain.OriginPolicy
}

// FieldError names the query parameter that could not be used.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

var watermarkParam = regexp.MustCompile(`^watermarks\[(\d+)\]((?:\[[A-Za-z_]+\])+)$`)

// ParseTransformQuery builds a TransformRequest for key from query values.
// Both the bracketed form (size[width], watermarks[0][filename], ...) and the
// flat form (w, h, r, wm_file, ...) are accepted; bracketed keys win when both
// name the same setting. Flat watermark keys describe one extra layer that is
// composited after the bracketed ones.
func ParseTransformQuery(key string, q url.Values, d Defaults) (domain.TransformRequest, error) {
	req := domain.TransformRequest{
		Key:     key,
		Format:  d.Format,
		Quality: d.Quality,
	}

	var err error
	if v, ok := first(q, "format"); ok {
		if req.Format, err = domain.ParseImageFormat(v); err != nil {
			return domain.TransformRequest{}, &FieldError{Field: "format", Err: err}
		}
	}
	if v, ok := first(q, "quality"); ok {
		if req.Quality, err = parseInt("quality", v, domain.ErrInvalidRequest); err != nil {
			return domain.TransformRequest{}, err
		}
	}
	if v, ok := first(q, "rotation", "r"); ok {
		if req.Rotation, err = domain.ParseRotation(v); err != nil {
			return domain.TransformRequest{}, &FieldError{Field: "rotation", Err: err}
		}
	}
	if req.Size, err = parseSize(q, "size", []string{"size[width]", "w"}, []string{"size[height]", "h"}); err != nil {
		return domain.TransformRequest{}, err
	}

	if req.Watermarks, err = parseWatermarks(q, d); err != nil {
		return domain.TransformRequest{}, err
	}
	legacy, ok, err := parseLegacyWatermark(q, d)
	if err != nil {
		return domain.TransformRequest{}, err
	}
	if ok {
		req.Watermarks = append(req.Watermarks, legacy)
	}

	return req, nil
}

type watermarkFields map[string]string

func parseWatermarks(q url.Values, d Defaults) ([]domain.Watermark, error) {
	byIndex := map[int]watermarkFields{}
	for name, values := range q {
		if !strings.HasPrefix(name, "watermarks[") || len(values) == 0 {
			continue
		}
		m := watermarkParam.FindStringSubmatch(name)
		if m == nil {
			return nil, &FieldError{Field: name, Err: fmt.Errorf("%w: malformed watermark parameter", domain.ErrInvalidRequest)}
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &FieldError{Field: name, Err: fmt.Errorf("%w: bad watermark index", domain.ErrInvalidRequest)}
		}
		path := strings.ToLower(strings.Trim(m[2], "[]"))
		if byIndex[idx] == nil {
			byIndex[idx] = watermarkFields{}
		}
		byIndex[idx][strings.ReplaceAll(path, "][", ".")] = values[0]
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]domain.Watermark, 0, len(indices))
	for _, idx := range indices {
		prefix := fmt.Sprintf("watermarks[%d]", idx)
		wm, err := byIndex[idx].watermark(d, func(field string) string {
			return prefix + "[" + strings.ReplaceAll(field, ".", "][") + "]"
		})
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	return out, nil
}

// watermark builds one layer. nameOf maps a field back to the query parameter
// it came from for error reporting.
func (f watermarkFields) watermark(d Defaults, nameOf func(field string) string) (domain.Watermark, error) {
	wm := domain.Watermark{Origin: d.Origin, Alpha: 1}
	for field, value := range f {
		name := nameOf(field)
		var err error
		switch field {
		case "filename", "key":
			wm.Key = strings.TrimSpace(value)
		case "alpha":
			wm.Alpha, err = parseFloat(name, value)
		case "origin":
			wm.Origin, err = domain.ParseOriginPolicy(value)
			if err != nil {
				err = &FieldError{Field: name, Err: err}
			}
		case "size.width":
			wm.Size.Width, err = parseDim(name, value)
		case "size.height":
			wm.Size.Height, err = parseDim(name, value)
		case "position.x":
			wm.Position.X, err = parseInt(name, value, domain.ErrInvalidRequest)
		case "position.y":
			wm.Position.Y, err = parseInt(name, value, domain.ErrInvalidRequest)
		default:
			err = &FieldError{Field: name, Err: fmt.Errorf("%w: unknown watermark field", domain.ErrInvalidRequest)}
		}
		if err != nil {
			return domain.Watermark{}, err
		}
	}
	if wm.Key == "" {
		return domain.Watermark{}, &FieldError{Field: nameOf("filename"), Err: fmt.Errorf("%w: watermark filename is required", domain.ErrInvalidRequest)}
	}
	return wm, nil
}

// legacyWatermarkFields maps the flat single-watermark parameters onto
// watermark fields.
var legacyWatermarkFields = map[string]string{
	"wm_file":     "filename",
	"wm_alpha":    "alpha",
	"wm_w":        "size.width",
	"wm_h":        "size.height",
	"wm_px":       "position.x",
	"wm_py":       "position.y",
	"wm_position": "origin",
}

func parseLegacyWatermark(q url.Values, d Defaults) (domain.Watermark, bool, error) {
	fields := watermarkFields{}
	params := map[string]string{}
	for param, field := range legacyWatermarkFields {
		if v, ok := first(q, param); ok {
			fields[field] = v
		}
		params[field] = param
	}
	if len(fields) == 0 {
		return domain.Watermark{}, false, nil
	}

	wm, err := fields.watermark(d, func(field string) string { return params[field] })
	if err != nil {
		return domain.Watermark{}, false, err
	}
	return wm, true, nil
}

func parseSize(q url.Values, field string, widthKeys, heightKeys []string) (domain.Size, error) {
	var (
		size domain.Size
		err  error
	)
	if v, ok := first(q, widthKeys...); ok {
		if size.Width, err = parseDim(field+"[width]", v); err != nil {
			return domain.Size{}, err
		}
	}
	if v, ok := first(q, heightKeys...); ok {
		if size.Height, err = parseDim(field+"[height]", v); err != nil {
			return domain.Size{}, err
		}
	}
	return size, nil
}

// first returns the first non-empty value among keys, in key order.
func first(q url.Values, keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v, true
		}
	}
	return "", false
}

func parseInt(field, value string, kind error) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &FieldError{Field: field, Err: fmt.Errorf("%w: %q is not an integer", kind, value)}
	}
	return n, nil
}

func parseDim(field, value string) (*int, error) {
	n, err := parseInt(field, value, domain.ErrInvalidSize)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, &FieldError{Field: field, Err: fmt.Errorf("%w: must be positive, got %d", domain.ErrInvalidSize, n)}
	}
	return &n, nil
}

func parseFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, &FieldError{Field: field, Err: fmt.Errorf("%w: %q is not a number", domain.ErrInvalidRequest, value)}
	}
	return f, nil
}
