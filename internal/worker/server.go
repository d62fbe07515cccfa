package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelmark/internal/config"
	"github.com/dunamismax/pixelmark/internal/domain"
	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/dunamismax/pixelmark/internal/queue"
	"github.com/dunamismax/pixelmark/internal/store"
	"github.com/dunamismax/pixelmark/internal/telemetry"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Processor interface {
	Process(ctx context.Context, req domain.TransformRequest) (pipeline.Result, error)
}

type webhookSender interface {
	SendRenderEvent(ctx context.Context, endpoint string, event domain.RenderEvent) error
}

// Deps are the collaborators a render needs. Jobs and Webhooks may be nil.
type Deps struct {
	Logger    *zap.Logger
	Processor Processor
	Emitter   pipeline.Emitter
	Webhooks  webhookSender
	Jobs      store.JobStore
	Metrics   *Metrics
	Tracer    trace.Tracer
}

type Server struct {
	logger    *zap.Logger
	server    *asynq.Server
	processor Processor
	emitter   pipeline.Emitter
	webhooks  webhookSender
	jobs      store.JobStore
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewServer(queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	s, err := newServer(deps)
	if err != nil {
		return nil, err
	}

	logger := s.logger
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			Logger:   logger.Named("asynq").Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

func newServer(deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if deps.Emitter == nil {
		return nil, errors.New("emitter is required")
	}

	s := &Server{
		logger:    deps.Logger,
		processor: deps.Processor,
		emitter:   deps.Emitter,
		webhooks:  deps.Webhooks,
		jobs:      deps.Jobs,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer("worker")
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderImage, s.handleRenderImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseRenderImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.render(ctx, payload)
}

// render runs one job. Failures that another attempt could fix are returned
// as-is so asynq retries them; everything else, and the last attempt, marks
// the job failed and skips further retries.
func (s *Server) render(ctx context.Context, payload queue.RenderImagePayload) error {
	startedAt := s.now()
	outcome := domain.RenderStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.render", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("image.key", payload.Request.Key),
		attribute.Int("image.watermarks", len(payload.Request.Watermarks)),
	)
	defer span.End()

	s.metrics.activeJobs.Inc()
	defer func() {
		s.metrics.activeJobs.Dec()
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(s.now().Sub(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	log := s.logger.With(zap.String("job_id", payload.JobID), zap.String("key", payload.Request.Key))
	log.Info("rendering",
		zap.String("format", payload.Request.Format.String()),
		zap.Int("watermarks", len(payload.Request.Watermarks)),
	)
	s.updateJob(ctx, payload.JobID, domain.StatusUpdate{Status: domain.RenderStatusProcessing})

	result, err := s.processor.Process(ctx, payload.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pipeline.KindOf(err)))
		return s.fail(ctx, payload, fmt.Errorf("process: %w", err))
	}

	output, err := s.emitter.Emit(ctx, payload.JobID, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit failed")
		return s.fail(ctx, payload, fmt.Errorf("emit: %w", err))
	}

	outcome = domain.RenderStatusSucceeded
	s.metrics.outputBytesTotal.Add(float64(output.Bytes))
	s.updateJob(ctx, payload.JobID, domain.StatusUpdate{
		Status:    domain.RenderStatusSucceeded,
		OutputKey: output.Key,
	})
	log.Info("render finished",
		zap.String("output_key", output.Key),
		zap.Int("bytes", output.Bytes),
		zap.Int("width", output.Width),
		zap.Int("height", output.Height),
	)

	s.notify(ctx, payload, domain.RenderEvent{
		JobID:       payload.JobID,
		Status:      domain.RenderStatusSucceeded,
		Key:         payload.Request.Key,
		OutputKey:   output.Key,
		Format:      output.Format,
		Width:       output.Width,
		Height:      output.Height,
		Bytes:       output.Bytes,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  s.now().UTC(),
	})
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

func (s *Server) fail(ctx context.Context, payload queue.RenderImagePayload, err error) error {
	log := s.logger.With(zap.String("job_id", payload.JobID))
	if pipeline.Retryable(err) && !lastAttempt(ctx) {
		log.Warn("render failed, will retry", zap.Error(err))
		return err
	}

	log.Error("render failed", zap.String("kind", string(pipeline.KindOf(err))), zap.Error(err))
	s.updateJob(ctx, payload.JobID, domain.StatusUpdate{
		Status: domain.RenderStatusFailed,
		Error:  err.Error(),
	})
	s.notify(ctx, payload, domain.RenderEvent{
		JobID:       payload.JobID,
		Status:      domain.RenderStatusFailed,
		Key:         payload.Request.Key,
		Format:      payload.Request.Format.String(),
		Error:       err.Error(),
		RequestedAt: payload.RequestedAt,
		FinishedAt:  s.now().UTC(),
	})
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// lastAttempt reports whether asynq will not run this task again. Outside a
// task handler there is no retry budget, so it reports true.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJob(ctx context.Context, jobID string, update domain.StatusUpdate) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.UpdateStatus(ctx, jobID, update); err != nil {
		s.logger.Warn("job status update failed",
			zap.String("job_id", jobID),
			zap.String("status", update.Status),
			zap.Error(err),
		)
	}
}

// notify delivers the webhook. Delivery failures are logged and counted but
// never fail the job.
func (s *Server) notify(ctx context.Context, payload queue.RenderImagePayload, event domain.RenderEvent) {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return
	}
	if err := s.webhooks.SendRenderEvent(ctx, payload.WebhookURL, event); err != nil {
		s.metrics.webhookFailures.Inc()
		s.logger.Warn("webhook delivery failed",
			zap.String("job_id", payload.JobID),
			zap.String("status", event.Status),
			zap.Error(err),
		)
	}
}
