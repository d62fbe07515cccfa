package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/dunamismax/pixelmark/internal/queue"
	"github.com/dunamismax/pixelmark/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Transformer interface {
	Process(ctx context.Context, req domain.TransformRequest) (pipeline.Result, error)
}

type renderEnqueuer interface {
	EnqueueRender(ctx context.Context, payload queue.RenderImagePayload) (*asynq.TaskInfo, error)
}

// Deps wires a Server. Queue and Jobs may be nil, which disables the render
// job endpoints.
type Deps struct {
	Logger                *zap.Logger
	Processor             Transformer
	Queue                 renderEnqueuer
	QueueName             string
	Jobs                  store.JobStore
	Ready                 func(ctx context.Context) error
	Defaults              Defaults
	MaxWatermarks         int
	Metrics               *Metrics
	Tracer                trace.Tracer
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
}

type Server struct {
	logger                *zap.Logger
	processor             Transformer
	queue                 renderEnqueuer
	queueName             string
	jobs                  store.JobStore
	ready                 func(ctx context.Context) error
	defaults              Defaults
	maxWatermarks         int
	metrics               *Metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	router                chi.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{
		logger:                deps.Logger,
		processor:             deps.Processor,
		queue:                 deps.Queue,
		queueName:             deps.QueueName,
		jobs:                  deps.Jobs,
		ready:                 deps.Ready,
		defaults:              deps.Defaults,
		maxWatermarks:         deps.MaxWatermarks,
		metrics:               deps.Metrics,
		tracer:                deps.Tracer,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: deps.RateLimitUserIDHeader,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.rateLimitUserIDHeader == "" {
		s.rateLimitUserIDHeader = "X-Client-ID"
	}
	if s.defaults.Quality == 0 {
		s.defaults.Quality = 100
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.withRecovery,
		s.withTracing,
		s.metrics.withHTTPMetrics,
		s.withRequestLog,
	)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1/renders", func(r chi.Router) {
		r.With(s.withRateLimit("renders")).Post("/", s.handleCreateRender)
		r.Get("/{id}", s.handleGetRender)
	})

	r.With(s.withRateLimit("transform")).Get("/*", s.handleTransform)

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidRequest, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: invalid JSON body: multiple JSON values are not allowed", domain.ErrInvalidRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusClientClosedRequest is the de facto status for requests the client
// abandoned before a response was written.
const statusClientClosedRequest = 499

// writeError maps a pipeline failure onto an HTTP response. Internal details
// are logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, key string, err error) {
	kind := pipeline.KindOf(err)
	log := s.logger.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("key", key),
		zap.String("kind", string(kind)),
	)

	switch kind {
	case pipeline.KindInvalidSize, pipeline.KindInvalidRequest:
		log.Info("rejected request", zap.Error(err))
		body := map[string]string{"error": string(kind), "message": err.Error()}
		var fe *FieldError
		if errors.As(err, &fe) {
			body["field"] = fe.Field
		}
		writeJSON(w, http.StatusBadRequest, body)
	case pipeline.KindNotFound:
		missing := key
		var nf *pipeline.NotFoundError
		if errors.As(err, &nf) {
			missing = nf.Key
		}
		log.Info("asset not found", zap.String("missing", missing), zap.Error(err))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "key": missing})
	case pipeline.KindCanceled:
		log.Info("request canceled by client")
		w.WriteHeader(statusClientClosedRequest)
	default:
		log.Error("transformation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process image"})
	}
}
