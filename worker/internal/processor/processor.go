package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/snapchef/core/domain"
	"github.com/you-humble/snapchef/core/metrics"
	"github.com/you-humble/snapchef/core/queue"
	"github.com/you-humble/snapchef/core/retry"

	"golang.org/x/sync/semaphore"
)

type TaskStore interface {
	Recognition(ctx context.Context, taskID string) (domain.RecognitionResult, error)
	PutRecognition(ctx context.Context, taskID string, res domain.RecognitionResult) error
}

type Recognizer interface {
	Infer(ctx context.Context, imagePath string) (domain.Ingredients, error)
}

type Config struct {
	MaxRetries       int
	RetryDelay       time.Duration
	InferenceTimeout time.Duration
	MaxInflight      int
}

type Processor struct {
	store      TaskStore
	recognizer Recognizer
	metrics    *metrics.Metrics

	sem     *semaphore.Weighted
	policy  retry.Policy
	timeout time.Duration
}

func New(cfg Config, store TaskStore, recognizer Recognizer, m *metrics.Metrics) *Processor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 3
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 300 * time.Second
	}

	return &Processor{
		store:      store,
		recognizer: recognizer,
		metrics:    m,
		sem:        semaphore.NewWeighted(int64(cfg.MaxInflight)),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			Delay:       retry.Fixed(cfg.RetryDelay),
		},
		timeout: cfg.InferenceTimeout,
	}
}

// ProcessTask recognises the ingredients on one image. Failures end up in
// the returned result, never as an error or a panic.
func (p *Processor) ProcessTask(ctx context.Context, taskID, imagePath string) domain.RecognitionResult {
	log := slog.With(slog.String("task_id", taskID))

	policy := p.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("recognition attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	}

	ingredients, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (domain.Ingredients, error) {
		return p.infer(ctx, imagePath)
	})
	if err != nil {
		log.Error("recognition failed", slog.String("error", err.Error()))
		return domain.RecognitionResult{
			Status: domain.StatusError,
			Error:  fmt.Sprintf("%s: %v", domain.ErrRecognitionFailed, err),
		}
	}

	if ingredients == nil {
		ingredients = domain.Ingredients{}
	}
	log.Info("recognition done", slog.Int("ingredients", len(ingredients)))
	return domain.RecognitionResult{Status: domain.StatusDone, Ingredients: ingredients}
}

func (p *Processor) infer(ctx context.Context, imagePath string) (res domain.Ingredients, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("recognizer panic: %v", r)
		}
		p.metrics.Inference("vlm", started, err)
	}()

	res, err = p.recognizer.Infer(ctx, imagePath)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		err = errors.Join(domain.ErrTimeout, err)
	}
	return res, err
}

// Handle settles one queue delivery. Poison messages and finished tasks are
// acknowledged without work; only a failed store write asks for redelivery.
func (p *Processor) Handle(ctx context.Context, data []byte) queue.Action {
	var msg domain.QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("drop undecodable message", slog.String("error", err.Error()), slog.Int("size", len(data)))
		p.metrics.Recognition("poison")
		return queue.Ack
	}
	if err := msg.Validate(); err != nil {
		slog.Error("drop invalid message", slog.String("error", err.Error()))
		p.metrics.Recognition("poison")
		return queue.Ack
	}

	log := slog.With(slog.String("task_id", msg.TaskID))

	current, err := p.store.Recognition(ctx, msg.TaskID)
	switch {
	case err == nil && current.Status.Terminal():
		log.Info("task already finished, skipping", slog.String("status", string(current.Status)))
		p.metrics.Recognition("skipped")
		return queue.Ack
	case err != nil && !errors.Is(err, domain.ErrTaskNotFound):
		log.Error("read task state", slog.String("error", err.Error()))
		return queue.Nak
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		log.Warn("inference slot not acquired", slog.String("error", err.Error()))
		return queue.Nak
	}
	p.metrics.InflightInc()
	defer func() {
		p.metrics.InflightDec()
		p.sem.Release(1)
	}()

	if err := p.store.PutRecognition(ctx, msg.TaskID, domain.RecognitionResult{Status: domain.StatusProcessing}); err != nil {
		log.Error("mark task processing", slog.String("error", err.Error()))
		return queue.Nak
	}

	log.Info("recognition started",
		slog.String("image_path", msg.ImagePath),
		slog.Float64("queued_for_sec", queuedFor(msg.QueuedAt)),
	)
	res := p.ProcessTask(ctx, msg.TaskID, msg.ImagePath)

	if err := p.store.PutRecognition(ctx, msg.TaskID, res); err != nil {
		log.Error("persist result", slog.String("error", err.Error()))
		return queue.Nak
	}

	p.metrics.Recognition(string(res.Status))
	return queue.Ack
}

func queuedFor(queuedAt float64) float64 {
	if queuedAt <= 0 {
		return 0
	}
	return float64(time.Now().UnixNano())/float64(time.Second) - queuedAt
}
