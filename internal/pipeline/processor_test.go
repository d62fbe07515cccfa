package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
)

type memFetcher struct {
	assets map[string][]byte
	calls  atomic.Int32
}

func (f *memFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	data, ok := f.assets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

// barrierFetcher only answers once every expected fetch is in flight, so a
// processor that fetches sequentially times out.
type barrierFetcher struct {
	assets  map[string][]byte
	waiting sync.WaitGroup
}

func newBarrierFetcher(assets map[string][]byte, expected int) *barrierFetcher {
	f := &barrierFetcher{assets: assets}
	f.waiting.Add(expected)
	return f
}

func (f *barrierFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.waiting.Done()
	done := make(chan struct{})
	go func() {
		f.waiting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return f.assets[key], nil
	case <-time.After(2 * time.Second):
		return nil, errors.New("fetches were not issued concurrently")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *stageRecorder) ObserveStage(stage Stage, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func newTestProcessor(t *testing.T, fetcher Fetcher, opts Options) *Processor {
	t.Helper()

	p, err := NewProcessor(fetcher, opts)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestProcessResizeRotateComposite(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{
		"photo.png": solidPNG(t, 200, 100, white),
		"logo.png":  solidPNG(t, 10, 10, blue),
	}}
	recorder := &stageRecorder{}
	p := newTestProcessor(t, fetcher, Options{PNGCompression: DefaultPNGCompression, Observer: recorder})

	req := domain.TransformRequest{
		Key:      "photo.png",
		Size:     domain.Size{Width: domain.Dim(100)},
		Format:   domain.FormatPNG,
		Quality:  100,
		Rotation: domain.Rotate90,
		Watermarks: []domain.Watermark{
			{Key: "logo.png", Origin: domain.OriginRightBottom, Alpha: 1},
		},
	}

	result, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Width != 50 || result.Height != 100 {
		t.Fatalf("expected 50x100 after resize and rotation, got %dx%d", result.Width, result.Height)
	}
	if result.ContentType() != "image/png" {
		t.Fatalf("unexpected content type %s", result.ContentType())
	}

	out := decodePNG(t, result.Data)
	if b := out.Bounds(); b.Dx() != 50 || b.Dy() != 100 {
		t.Fatalf("decoded output is %dx%d", b.Dx(), b.Dy())
	}
	// Placement uses the rotated canvas, so the mark sits in the bottom right
	// of a portrait image.
	assertColor(t, out, 45, 95, blue)
	assertColor(t, out, 39, 89, white)

	want := []Stage{StageFetching, StageDecoding, StageResizing, StageRotating, StageCompositing, StageEncoding}
	if len(recorder.stages) != len(want) {
		t.Fatalf("stages = %v, want %v", recorder.stages, want)
	}
	for i := range want {
		if recorder.stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", recorder.stages, want)
		}
	}
}

func TestProcessCompositesInRequestOrder(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{
		"base.png":  solidPNG(t, 40, 40, white),
		"red.png":   solidPNG(t, 10, 10, red),
		"green.png": solidPNG(t, 10, 10, green),
	}}
	p := newTestProcessor(t, fetcher, Options{})

	layers := func(keys ...string) []domain.Watermark {
		out := make([]domain.Watermark, 0, len(keys))
		for _, key := range keys {
			out = append(out, domain.Watermark{Key: key, Origin: domain.OriginCenter, Alpha: 1})
		}
		return out
	}

	cases := []struct {
		keys []string
		want [4]uint8
	}{
		{[]string{"red.png", "green.png"}, [4]uint8{0, 255, 0, 255}},
		{[]string{"green.png", "red.png"}, [4]uint8{255, 0, 0, 255}},
	}
	for _, tc := range cases {
		result, err := p.Process(context.Background(), domain.TransformRequest{
			Key:        "base.png",
			Format:     domain.FormatPNG,
			Watermarks: layers(tc.keys...),
		})
		if err != nil {
			t.Fatalf("process %v: %v", tc.keys, err)
		}
		got := nrgbaAt(decodePNG(t, result.Data), 20, 20)
		if [4]uint8{got.R, got.G, got.B, got.A} != tc.want {
			t.Fatalf("order %v: center pixel %+v, want %v", tc.keys, got, tc.want)
		}
	}
}

func TestProcessFetchesConcurrently(t *testing.T) {
	assets := map[string][]byte{
		"base.png": solidPNG(t, 20, 20, white),
		"a.png":    solidPNG(t, 2, 2, red),
		"b.png":    solidPNG(t, 2, 2, green),
		"c.png":    solidPNG(t, 2, 2, blue),
	}
	p := newTestProcessor(t, newBarrierFetcher(assets, len(assets)), Options{})

	_, err := p.Process(context.Background(), domain.TransformRequest{
		Key:     "base.png",
		Format:  domain.FormatJPEG,
		Quality: 90,
		Watermarks: []domain.Watermark{
			{Key: "a.png", Alpha: 1},
			{Key: "b.png", Alpha: 1},
			{Key: "c.png", Alpha: 1},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessErrorKinds(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{
		"photo.png": solidPNG(t, 20, 20, white),
		"junk.png":  []byte("definitely not an image"),
	}}
	p := newTestProcessor(t, fetcher, Options{MaxWatermarks: 2})

	cases := []struct {
		name string
		req  domain.TransformRequest
		want error
		kind Kind
	}{
		{
			name: "missing base",
			req:  domain.TransformRequest{Key: "nope.png", Format: domain.FormatPNG},
			want: ErrNotFound,
			kind: KindNotFound,
		},
		{
			name: "missing watermark",
			req: domain.TransformRequest{Key: "photo.png", Format: domain.FormatPNG, Watermarks: []domain.Watermark{
				{Key: "gone.png", Alpha: 1},
			}},
			want: ErrNotFound,
			kind: KindNotFound,
		},
		{
			name: "undecodable base",
			req:  domain.TransformRequest{Key: "junk.png", Format: domain.FormatPNG},
			want: ErrDecode,
			kind: KindDecode,
		},
		{
			name: "undecodable watermark",
			req: domain.TransformRequest{Key: "photo.png", Format: domain.FormatPNG, Watermarks: []domain.Watermark{
				{Key: "junk.png", Alpha: 1},
			}},
			want: ErrDecode,
			kind: KindDecode,
		},
		{
			name: "zero width",
			req:  domain.TransformRequest{Key: "photo.png", Format: domain.FormatPNG, Size: domain.Size{Width: domain.Dim(0)}},
			want: ErrInvalidSize,
			kind: KindInvalidSize,
		},
		{
			name: "too many watermarks",
			req: domain.TransformRequest{Key: "photo.png", Format: domain.FormatPNG, Watermarks: []domain.Watermark{
				{Key: "a"}, {Key: "b"}, {Key: "c"},
			}},
			want: ErrInvalidRequest,
			kind: KindInvalidRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := KindOf(err); got != tc.kind {
				t.Fatalf("KindOf = %q, want %q", got, tc.kind)
			}
		})
	}
}

func TestProcessValidatesBeforeFetching(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{}}
	p := newTestProcessor(t, fetcher, Options{})

	_, err := p.Process(context.Background(), domain.TransformRequest{
		Key:    "photo.png",
		Format: domain.FormatPNG,
		Watermarks: []domain.Watermark{
			{Key: "logo.png", Size: domain.Size{Height: domain.Dim(-1)}},
		},
	})
	if !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	if calls := fetcher.calls.Load(); calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}
}

func TestProcessCanceled(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{"photo.png": solidPNG(t, 4, 4, white)}}
	p := newTestProcessor(t, fetcher, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, domain.TransformRequest{Key: "photo.png", Format: domain.FormatPNG})
	if KindOf(err) != KindCanceled {
		t.Fatalf("expected canceled kind, got %v", err)
	}
}

func TestProcessMissingWatermarkNamesKey(t *testing.T) {
	fetcher := &memFetcher{assets: map[string][]byte{"photo.png": solidPNG(t, 8, 8, white)}}
	p := newTestProcessor(t, fetcher, Options{})

	_, err := p.Process(context.Background(), domain.TransformRequest{
		Key:        "photo.png",
		Format:     domain.FormatPNG,
		Watermarks: []domain.Watermark{{Key: "gone.png", Alpha: 1}},
	})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected a NotFoundError, got %v", err)
	}
	if nf.Key != "gone.png" {
		t.Fatalf("NotFoundError.Key = %q, want gone.png", nf.Key)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchErrorKeepsFetcherKey(t *testing.T) {
	err := asFetchError("outer.png", &NotFoundError{Key: "inner.png"})
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Key != "inner.png" {
		t.Fatalf("expected key inner.png, got %v", err)
	}
}

func TestUnknownErrorsAreNotRetryable(t *testing.T) {
	if KindOf(errors.New("output directory is required")) != KindProcessing {
		t.Fatal("unclassified errors should be processing errors")
	}
	if Retryable(errors.New("output directory is required")) {
		t.Fatal("unclassified errors should not be retryable")
	}
	if !Retryable(fmt.Errorf("emit: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline errors should be retryable")
	}
}

func TestUnclassifiedFetchErrorIsTransport(t *testing.T) {
	err := asFetchError("photo.png", errors.New("connection reset"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("transport errors should be retryable")
	}
	if Retryable(fmt.Errorf("%w: x", ErrDecode)) {
		t.Fatal("decode errors should not be retryable")
	}
}

func TestNewProcessorRejectsBadCompression(t *testing.T) {
	if _, err := NewProcessor(&memFetcher{}, Options{PNGCompression: 10}); err == nil {
		t.Fatal("expected error for png compression 10")
	}
	if _, err := NewProcessor(nil, Options{}); err == nil {
		t.Fatal("expected error for nil fetcher")
	}
}
