package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	"github.com/dunamismax/pixelmark/internal/id"
	"github.com/dunamismax/pixelmark/internal/queue"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// renderBody is the wire form of POST /v1/renders. Pointer fields tell an
// omitted value apart from a zero one so server defaults can fill the gaps.
type renderBody struct {
	Key        string              `json:"key"`
	Size       domain.Size         `json:"size"`
	Format     *domain.ImageFormat `json:"format"`
	Quality    *int                `json:"quality"`
	Rotation   domain.Rotation     `json:"rotation"`
	Watermarks []watermarkBody     `json:"watermarks"`
	WebhookURL string              `json:"webhook_url"`
}

type watermarkBody struct {
	Key      string               `json:"key"`
	Size     domain.Size          `json:"size"`
	Origin   *domain.OriginPolicy `json:"origin"`
	Position domain.Point         `json:"position"`
	Alpha    *float64             `json:"alpha"`
}

func (b renderBody) toRequest(d Defaults) domain.CreateRenderRequest {
	req := domain.CreateRenderRequest{
		TransformRequest: domain.TransformRequest{
			Key:      strings.TrimSpace(b.Key),
			Size:     b.Size,
			Format:   d.Format,
			Quality:  d.Quality,
			Rotation: b.Rotation,
		},
		WebhookURL: strings.TrimSpace(b.WebhookURL),
	}
	if b.Format != nil {
		req.Format = *b.Format
	}
	if b.Quality != nil {
		req.Quality = *b.Quality
	}
	for _, wb := range b.Watermarks {
		wm := domain.Watermark{
			Key:      strings.TrimSpace(wb.Key),
			Size:     wb.Size,
			Origin:   d.Origin,
			Position: wb.Position,
			Alpha:    1,
		}
		if wb.Origin != nil {
			wm.Origin = *wb.Origin
		}
		if wb.Alpha != nil {
			wm.Alpha = *wb.Alpha
		}
		req.Watermarks = append(req.Watermarks, wm)
	}
	return req
}

func (s *Server) rendersEnabled(w http.ResponseWriter) bool {
	if s.queue == nil || s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "render jobs are not enabled"})
		return false
	}
	return true
}

func (s *Server) handleCreateRender(w http.ResponseWriter, r *http.Request) {
	if !s.rendersEnabled(w) {
		return
	}

	var body renderBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, "", err)
		return
	}
	req := body.toRequest(s.defaults)
	if err := req.Validate(s.maxWatermarks); err != nil {
		s.writeError(w, r, req.Key, err)
		return
	}

	now := time.Now().UTC()
	job := domain.RenderJob{
		ID:         id.New(),
		Status:     domain.RenderStatusQueued,
		Request:    req.TransformRequest,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("create render job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	info, err := s.queue.EnqueueRender(r.Context(), queue.RenderImagePayload{
		JobID:       job.ID,
		Request:     job.Request,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error("enqueue render job failed", zap.String("job_id", job.ID), zap.Error(err))
		if _, uerr := s.jobs.UpdateStatus(r.Context(), job.ID, domain.StatusUpdate{
			Status: domain.RenderStatusFailed,
			Error:  "failed to enqueue job",
		}); uerr != nil {
			s.logger.Warn("mark render job failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}

	queueName := s.queueName
	if info != nil && info.Queue != "" {
		queueName = info.Queue
	}
	s.metrics.renderEnqueued.WithLabelValues(queueName).Inc()
	s.logger.Info("render job queued",
		zap.String("job_id", job.ID),
		zap.String("key", job.Request.Key),
		zap.String("queue", queueName),
		zap.Int("watermarks", len(job.Request.Watermarks)),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"queue":      queueName,
		"status_url": fmt.Sprintf("/v1/renders/%s", job.ID),
	})
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "render jobs are not enabled"})
		return
	}

	jobID := chi.URLParam(r, "id")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("load render job failed", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

