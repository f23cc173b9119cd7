package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenajudge/internal/common/mq"
	"arenajudge/internal/judge/model"
	judgeService "arenajudge/internal/judge/service"
	appErr "arenajudge/pkg/errors"
)

// Dispatcher hands a queued submission to the judge.
// It returns JudgeQueueFull when the judge applies Backpressure.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg model.JudgeMessage) error
}

// TopicConfig routes judge tasks by scene.
type TopicConfig struct {
	Contest  string `yaml:"contest"`
	Practice string `yaml:"practice"`
}

// MQDispatcher publishes judge tasks to scene topics.
type MQDispatcher struct {
	producer mq.Producer
	topics   TopicConfig
	timeout  time.Duration
}

// NewMQDispatcher creates a dispatcher that publishes to producer.
func NewMQDispatcher(producer mq.Producer, topics TopicConfig, timeout time.Duration) (*MQDispatcher, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if topics.Practice == "" {
		return nil, fmt.Errorf("practice topic is required")
	}
	if topics.Contest == "" {
		topics.Contest = topics.Practice
	}
	return &MQDispatcher{producer: producer, topics: topics, timeout: timeout}, nil
}

// Dispatch publishes msg keyed by submission id.
func (d *MQDispatcher) Dispatch(ctx context.Context, msg model.JudgeMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode judge message failed")
	}
	message := mq.NewMessage(body)
	message.ID = msg.SubmissionID

	topic := d.topics.Practice
	if msg.IsContest() {
		topic = d.topics.Contest
	}
	ctxMQ, cancel := withTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.producer.Publish(ctxMQ, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish judge message failed")
	}
	return nil
}

// JudgeEnqueuer accepts judge tasks in process.
type JudgeEnqueuer interface {
	Enqueue(ctx context.Context, msg model.JudgeMessage) (*judgeService.Future, error)
}

// LocalDispatcher hands tasks straight to an in-process judge.
// Backpressure surfaces synchronously to the submitter.
type LocalDispatcher struct {
	judge JudgeEnqueuer
}

// NewLocalDispatcher creates a dispatcher backed by judge.
func NewLocalDispatcher(judge JudgeEnqueuer) *LocalDispatcher {
	return &LocalDispatcher{judge: judge}
}

// Dispatch enqueues msg without waiting for its verdict.
func (d *LocalDispatcher) Dispatch(ctx context.Context, msg model.JudgeMessage) error {
	if d.judge == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("judge is not configured")
	}
	_, err := d.judge.Enqueue(ctx, msg)
	return err
}
