package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelmark/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists render jobs between the API and the worker.
type JobStore interface {
	Create(ctx context.Context, job domain.RenderJob) error
	Get(ctx context.Context, id string) (domain.RenderJob, bool, error)
	UpdateStatus(ctx context.Context, id string, update domain.StatusUpdate) (domain.RenderJob, error)
}
