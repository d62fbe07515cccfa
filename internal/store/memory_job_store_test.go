package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	job := domain.RenderJob{
		ID:      "job-1",
		Status:  domain.RenderStatusQueued,
		Request: domain.TransformRequest{Key: "cat.jpg", Quality: 90},
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, job); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Request.Key != "cat.jpg" {
		t.Fatalf("unexpected job %+v", got)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.StatusUpdate{
		Status:    domain.RenderStatusSucceeded,
		OutputKey: "renders/job-1.jpeg",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.RenderStatusSucceeded || updated.OutputKey != "renders/job-1.jpeg" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if !updated.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected updated_at %s, got %s", fixed, updated.UpdatedAt)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.StatusUpdate{Status: domain.RenderStatusFailed}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job to be absent")
	}
}
