package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenajudge/internal/common/mq"
	"arenajudge/internal/judge/model"
	appErr "arenajudge/pkg/errors"
)

// StatusEventPublisher publishes terminal statuses for downstream consumers.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, event model.StatusEvent) error
}

// MQStatusEventPublisher publishes status events to a message queue.
type MQStatusEventPublisher struct {
	queue mq.Producer
	topic string
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(queue mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic}
}

// PublishFinalStatus publishes a final status event keyed by submission id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, event model.StatusEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if event.Status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event.Type = model.StatusEventFinal
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.Status.SubmissionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}

// DecodeStatusEvent parses a message published by MQStatusEventPublisher.
func DecodeStatusEvent(msg *mq.Message) (model.StatusEvent, error) {
	if msg == nil {
		return model.StatusEvent{}, appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return model.StatusEvent{}, appErr.Wrapf(err, appErr.InvalidParams, "decode status event failed")
	}
	if event.Type != model.StatusEventFinal || event.Status.SubmissionID == "" {
		return model.StatusEvent{}, appErr.New(appErr.InvalidParams).WithMessage("unexpected status event")
	}
	return event, nil
}
