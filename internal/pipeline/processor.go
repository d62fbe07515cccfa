package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxWatermarks = 8

type Stage string

const (
	StageFetching    Stage = "fetching"
	StageDecoding    Stage = "decoding"
	StageResizing    Stage = "resizing"
	StageRotating    Stage = "rotating"
	StageCompositing Stage = "compositing"
	StageEncoding    Stage = "encoding"
)

// Fetcher loads the raw bytes stored under key. Implementations report a
// missing key with a *NotFoundError (or anything wrapping ErrNotFound) and
// backend failures with ErrTransport.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Observer is told about every stage the processor runs.
type Observer interface {
	ObserveStage(stage Stage, elapsed time.Duration, err error)
}

type Options struct {
	PNGCompression int
	MaxWatermarks  int
	Encoder        Encoder
	Observer       Observer
	Logger         *zap.Logger
	Tracer         trace.Tracer
}

type Result struct {
	Data   []byte
	Format domain.ImageFormat
	Width  int
	Height int
}

func (r Result) ContentType() string {
	return r.Format.MediaType()
}

// Processor runs one TransformRequest end to end: fetch every asset
// concurrently, then decode, resize, rotate, composite each watermark in
// order and encode.
type Processor struct {
	fetcher        Fetcher
	encoder        Encoder
	pngCompression int
	maxWatermarks  int
	observer       Observer
	logger         *zap.Logger
	tracer         trace.Tracer
}

func NewProcessor(fetcher Fetcher, opts Options) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	p := &Processor{
		fetcher:        fetcher,
		encoder:        opts.Encoder,
		pngCompression: opts.PNGCompression,
		maxWatermarks:  opts.MaxWatermarks,
		observer:       opts.Observer,
		logger:         opts.Logger,
		tracer:         opts.Tracer,
	}
	if p.encoder == nil {
		p.encoder = newEncoder()
	}
	if p.maxWatermarks == 0 {
		p.maxWatermarks = DefaultMaxWatermarks
	}
	if p.pngCompression < 0 || p.pngCompression > 9 {
		return nil, fmt.Errorf("png compression must be between 0 and 9, got %d", p.pngCompression)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/dunamismax/pixelmark/internal/pipeline")
	}
	if err := Startup(p.logger); err != nil {
		return nil, fmt.Errorf("start image runtime: %w", err)
	}
	return p, nil
}

func (p *Processor) Process(ctx context.Context, req domain.TransformRequest) (Result, error) {
	if err := req.Validate(p.maxWatermarks); err != nil {
		return Result{}, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("image.key", req.Key),
		attribute.String("image.format", req.Format.String()),
		attribute.Int("image.watermarks", len(req.Watermarks)),
	))
	defer span.End()

	out, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("image.width", out.Width),
		attribute.Int("image.height", out.Height),
		attribute.Int("image.bytes", len(out.Data)),
	)
	return out, nil
}

func (p *Processor) process(ctx context.Context, req domain.TransformRequest) (Result, error) {
	var assets [][]byte
	err := p.stage(ctx, StageFetching, func(ctx context.Context) error {
		var err error
		assets, err = p.fetchAll(ctx, req)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	var canvas image.Image
	err = p.stage(ctx, StageDecoding, func(context.Context) error {
		var err error
		canvas, err = decodeImage(assets[0])
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("decode stage key=%s: %w", req.Key, err)
	}

	err = p.stage(ctx, StageResizing, func(context.Context) error {
		var err error
		canvas, err = Resize(canvas, req.Size)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("resize stage: %w", err)
	}

	if req.Rotation != domain.RotateNone {
		err = p.stage(ctx, StageRotating, func(context.Context) error {
			canvas = Rotate(canvas, req.Rotation)
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("rotate stage: %w", err)
		}
	}

	for i, wm := range req.Watermarks {
		layer := assets[i+1]
		err = p.stage(ctx, StageCompositing, func(context.Context) error {
			var err error
			canvas, err = Composite(canvas, layer, wm)
			return err
		})
		if err != nil {
			return Result{}, fmt.Errorf("composite stage index=%d: %w", i, err)
		}
	}

	var data []byte
	err = p.stage(ctx, StageEncoding, func(context.Context) error {
		var err error
		data, err = p.encoder.Encode(canvas, encodeParams(req.Format, req.Quality, p.pngCompression))
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode stage format=%s: %w", req.Format, err)
	}

	b := canvas.Bounds()
	return Result{
		Data:   data,
		Format: req.Format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// fetchAll loads the base image and every watermark layer concurrently.
// Slot 0 holds the base; slot i+1 holds watermark i. The first failure
// cancels the remaining fetches.
func (p *Processor) fetchAll(ctx context.Context, req domain.TransformRequest) ([][]byte, error) {
	keys := make([]string, 0, len(req.Watermarks)+1)
	keys = append(keys, req.Key)
	for _, wm := range req.Watermarks {
		keys = append(keys, wm.Key)
	}

	assets := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			data, err := p.fetcher.Fetch(gctx, key)
			if err != nil {
				return asFetchError(key, err)
			}
			assets[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (p *Processor) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if p.observer != nil {
		p.observer.ObserveStage(stage, elapsed, err)
	}
	p.logger.Debug("pipeline stage finished",
		zap.String("stage", string(stage)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return err
}
