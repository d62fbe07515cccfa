package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeRenderImage = "image:render"

type RenderImagePayload struct {
	JobID       string                  `json:"job_id"`
	Request     domain.TransformRequest `json:"request"`
	WebhookURL  string                  `json:"webhook_url,omitempty"`
	RequestedAt time.Time               `json:"requested_at"`
}

func NewRenderImageTask(payload RenderImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderImage, body), nil
}

func ParseRenderImagePayload(task *asynq.Task) (RenderImagePayload, error) {
	var payload RenderImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderImagePayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
