package api

import (
	"errors"
	"net/url"
	"testing"

	"github.com/dunamismax/pixelmark/internal/domain"
)

var testDefaults = Defaults{Format: domain.FormatJPEG, Quality: 90, Origin: domain.OriginLeftTop}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("parse query %q: %v", raw, err)
	}
	return q
}

func TestParseTransformQueryDefaults(t *testing.T) {
	req, err := ParseTransformQuery("photos/cat.png", url.Values{}, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Key != "photos/cat.png" || req.Format != domain.FormatJPEG || req.Quality != 90 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !req.Size.IsZero() || req.Rotation != domain.RotateNone || len(req.Watermarks) != 0 {
		t.Fatalf("expected no transformations, got %+v", req)
	}
}

func TestParseTransformQueryBracketed(t *testing.T) {
	q := mustQuery(t, "format=png&rotation=R90&size[width]=320&size[height]=200"+
		"&watermarks[0][filename]=logo.png&watermarks[0][alpha]=0.5&watermarks[0][origin]=RightBottom"+
		"&watermarks[0][position][x]=10&watermarks[0][position][y]=12&watermarks[0][size][width]=64")

	req, err := ParseTransformQuery("base.jpg", q, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Format != domain.FormatPNG || req.Rotation != domain.Rotate90 {
		t.Fatalf("unexpected format/rotation: %+v", req)
	}
	if *req.Size.Width != 320 || *req.Size.Height != 200 {
		t.Fatalf("unexpected size: %s", req.Size)
	}
	if len(req.Watermarks) != 1 {
		t.Fatalf("expected 1 watermark, got %d", len(req.Watermarks))
	}
	wm := req.Watermarks[0]
	if wm.Key != "logo.png" || wm.Alpha != 0.5 || wm.Origin != domain.OriginRightBottom {
		t.Fatalf("unexpected watermark: %+v", wm)
	}
	if wm.Position != (domain.Point{X: 10, Y: 12}) {
		t.Fatalf("unexpected position: %+v", wm.Position)
	}
	if wm.Size.Width == nil || *wm.Size.Width != 64 || wm.Size.Height != nil {
		t.Fatalf("unexpected watermark size: %s", wm.Size)
	}
}

func TestParseTransformQueryWatermarkOrder(t *testing.T) {
	q := mustQuery(t, "watermarks[10][filename]=c.png&watermarks[2][filename]=b.png&watermarks[0][filename]=a.png")

	req, err := ParseTransformQuery("base.jpg", q, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{}
	for _, wm := range req.Watermarks {
		got = append(got, wm.Key)
	}
	want := []string{"a.png", "b.png", "c.png"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	for _, wm := range req.Watermarks {
		if wm.Alpha != 1 || wm.Origin != domain.OriginLeftTop {
			t.Fatalf("expected layer defaults, got %+v", wm)
		}
	}
}

func TestParseTransformQueryFlatForm(t *testing.T) {
	q := mustQuery(t, "w=100&h=50&r=r270&quality=75&wm_file=mark.png&wm_alpha=0.25&wm_position=center&wm_px=3&wm_py=4&wm_w=20")

	req, err := ParseTransformQuery("base.jpg", q, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *req.Size.Width != 100 || *req.Size.Height != 50 || req.Rotation != domain.Rotate270 || req.Quality != 75 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Watermarks) != 1 {
		t.Fatalf("expected 1 watermark, got %d", len(req.Watermarks))
	}
	wm := req.Watermarks[0]
	if wm.Key != "mark.png" || wm.Alpha != 0.25 || wm.Origin != domain.OriginCenter || wm.Position != (domain.Point{X: 3, Y: 4}) {
		t.Fatalf("unexpected watermark: %+v", wm)
	}
}

func TestParseTransformQueryFlatLayerComesLast(t *testing.T) {
	q := mustQuery(t, "wm_file=flat.png&watermarks[0][filename]=nested.png")

	req, err := ParseTransformQuery("base.jpg", q, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Watermarks) != 2 || req.Watermarks[0].Key != "nested.png" || req.Watermarks[1].Key != "flat.png" {
		t.Fatalf("unexpected layer order: %+v", req.Watermarks)
	}
}

func TestParseTransformQueryBracketedSizeWins(t *testing.T) {
	q := mustQuery(t, "size[width]=300&w=100")

	req, err := ParseTransformQuery("base.jpg", q, testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *req.Size.Width != 300 {
		t.Fatalf("expected bracketed width to win, got %d", *req.Size.Width)
	}
}

func TestParseTransformQueryErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		kind  error
		field string
	}{
		{name: "zero width", query: "size[width]=0", kind: domain.ErrInvalidSize, field: "size[width]"},
		{name: "negative height", query: "h=-3", kind: domain.ErrInvalidSize, field: "size[height]"},
		{name: "non numeric width", query: "w=wide", kind: domain.ErrInvalidSize, field: "size[width]"},
		{name: "bad format", query: "format=gif", kind: domain.ErrInvalidRequest, field: "format"},
		{name: "bad rotation", query: "rotation=R45", kind: domain.ErrInvalidRequest, field: "rotation"},
		{name: "bad quality", query: "quality=high", kind: domain.ErrInvalidRequest, field: "quality"},
		{name: "missing filename", query: "watermarks[0][alpha]=0.3", kind: domain.ErrInvalidRequest, field: "watermarks[0][filename]"},
		{name: "unknown field", query: "watermarks[0][filename]=a.png&watermarks[0][blend]=x", kind: domain.ErrInvalidRequest, field: "watermarks[0][blend]"},
		{name: "malformed index", query: "watermarks[x][filename]=a.png", kind: domain.ErrInvalidRequest, field: "watermarks[x][filename]"},
		{name: "bad origin", query: "watermarks[0][filename]=a.png&watermarks[0][origin]=middle", kind: domain.ErrInvalidRequest, field: "watermarks[0][origin]"},
		{name: "watermark zero size", query: "watermarks[0][filename]=a.png&watermarks[0][size][height]=0", kind: domain.ErrInvalidSize, field: "watermarks[0][size][height]"},
		{name: "flat without file", query: "wm_alpha=0.5", kind: domain.ErrInvalidRequest, field: "wm_file"},
		{name: "flat bad alpha", query: "wm_file=a.png&wm_alpha=lots", kind: domain.ErrInvalidRequest, field: "wm_alpha"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTransformQuery("base.jpg", mustQuery(t, tc.query), testDefaults)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected a FieldError, got %T", err)
			}
			if fe.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, fe.Field)
			}
		})
	}
}
