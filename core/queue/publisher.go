package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/snapchef/core/domain"

	"github.com/nats-io/nats.go"
)

const defaultPublishTimeout = 5 * time.Second

// StreamConfig describes the durable work queue holding recognition jobs.
func StreamConfig(name, subject string, maxAge time.Duration) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		Replicas:   1,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	}
}

type Publisher struct {
	js      nats.JetStreamContext
	subject string
	timeout time.Duration
	now     func() time.Time
}

func NewPublisher(js nats.JetStreamContext, subject string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{
		js:      js,
		subject: subject,
		timeout: timeout,
		now:     time.Now,
	}
}

// Publish enqueues a recognition job. The task id doubles as the broker
// message id, so a retried publish is stored once.
func (p *Publisher) Publish(ctx context.Context, taskID, imagePath string) error {
	msg := domain.QueueMessage{
		TaskID:    taskID,
		ImagePath: imagePath,
		QueuedAt:  float64(p.now().UnixNano()) / float64(time.Second),
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish task %s: encode: %w", taskID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.PublishMsg(&nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}, nats.Context(ctx), nats.MsgId(taskID))
	if err != nil {
		return fmt.Errorf("publish task %s: %w: %w", taskID, classify(err), err)
	}

	slog.Debug(
		"task enqueued",
		slog.String("task_id", taskID),
		slog.String("subject", p.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)

	return nil
}

// classify sorts publish failures into lost connections and broker rejections.
func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrStaleConnection),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.ErrConnectionLost
	default:
		return domain.ErrPublishRejected
	}
}
