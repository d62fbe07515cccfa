package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	RenderStatusQueued     = "queued"
	RenderStatusProcessing = "processing"
	RenderStatusSucceeded  = "succeeded"
	RenderStatusFailed     = "failed"

	EventRenderCompleted = "render.completed"
	EventRenderFailed    = "render.failed"
)

// CreateRenderRequest is the body of POST /v1/renders.
type CreateRenderRequest struct {
	TransformRequest
	WebhookURL string `json:"webhook_url,omitempty"`
}

// RenderJob tracks one offline render through the worker.
type RenderJob struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Request    TransformRequest `json:"request"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	OutputKey  string           `json:"output_key,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type StatusUpdate struct {
	Status    string
	OutputKey string
	Error     string
}

// RenderEvent is the webhook body sent when a render finishes.
type RenderEvent struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Key         string    `json:"key"`
	OutputKey   string    `json:"output_key,omitempty"`
	Format      string    `json:"format"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Bytes       int       `json:"bytes,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (r CreateRenderRequest) Validate(maxWatermarks int) error {
	if err := r.TransformRequest.Validate(maxWatermarks); err != nil {
		return err
	}
	hook := strings.TrimSpace(r.WebhookURL)
	if hook == "" {
		return nil
	}
	u, err := url.Parse(hook)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}
