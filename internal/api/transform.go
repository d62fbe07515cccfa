package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleTransform serves GET /{key}: the stored image at key, transformed as
// the query string describes.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		key = chi.URLParam(r, "*")
	}

	req, err := ParseTransformQuery(key, r.URL.Query(), s.defaults)
	if err == nil {
		err = req.Validate(s.maxWatermarks)
	}
	if err != nil {
		s.metrics.transformFailures.WithLabelValues(string(pipeline.KindOf(err))).Inc()
		s.writeError(w, r, key, err)
		return
	}

	result, err := s.processor.Process(r.Context(), req)
	if err != nil {
		s.metrics.transformFailures.WithLabelValues(string(pipeline.KindOf(err))).Inc()
		s.writeError(w, r, key, err)
		return
	}

	s.metrics.outputBytes.WithLabelValues(result.Format.String()).Observe(float64(len(result.Data)))
	s.logger.Info("transformed image",
		zap.String("key", key),
		zap.String("format", result.Format.String()),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("watermarks", len(req.Watermarks)),
		zap.Int("bytes", len(result.Data)),
	)

	w.Header().Set("Content-Type", result.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
