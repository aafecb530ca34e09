package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// Action tells the consumer how to settle a message.
type Action int

const (
	Ack Action = iota
	// Nak asks for redelivery after the configured delay.
	Nak
)

func (a Action) String() string {
	if a == Nak {
		return "nak"
	}
	return "ack"
}

// Handler processes one message body. It must be safe for concurrent use.
type Handler func(ctx context.Context, data []byte) Action

// Dialer opens a fresh broker session. The returned func releases it.
type Dialer func(ctx context.Context) (nats.JetStreamContext, func(), error)

type ConsumerConfig struct {
	Stream  string
	Subject string
	Durable string
	// Prefetch bounds unacknowledged deliveries and the number of fetchers.
	Prefetch       int
	AckWait        time.Duration
	NakDelay       time.Duration
	FetchWait      time.Duration
	ReconnectDelay time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.Prefetch <= 0 {
		c.Prefetch = 3
	}
	if c.AckWait <= 0 {
		c.AckWait = time.Minute
	}
	if c.NakDelay <= 0 {
		c.NakDelay = 5 * time.Second
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
}

type Consumer struct {
	cfg  ConsumerConfig
	dial Dialer
}

func NewConsumer(cfg ConsumerConfig, dial Dialer) *Consumer {
	cfg.setDefaults()
	return &Consumer{cfg: cfg, dial: dial}
}

// Run consumes until ctx is cancelled. A lost session is torn down and
// re-established after ReconnectDelay. In-flight handlers finish before Run
// returns.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			slog.Info("queue consumer stopped", slog.String("durable", c.cfg.Durable))
			return nil
		}

		slog.Warn(
			"queue session lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", c.cfg.ReconnectDelay),
		)

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Consumer) session(ctx context.Context, h Handler) error {
	js, release, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer release()

	_, err = js.AddConsumer(c.cfg.Stream, &nats.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		FilterSubject: c.cfg.Subject,
		MaxAckPending: c.cfg.Prefetch,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.Bind(c.cfg.Stream, c.cfg.Durable),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("JetStream PullSubscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			slog.Warn("NATS unsubscribe", slog.String("error", err.Error()))
		}
	}()

	slog.Info("queue consumer is running",
		slog.Int("fetchers", c.cfg.Prefetch),
		slog.String("subject", c.cfg.Subject),
		slog.String("durable", c.cfg.Durable),
	)

	g, gctx := errgroup.WithContext(ctx)
	for range c.cfg.Prefetch {
		g.Go(func() error { return c.fetchLoop(gctx, sub, h) })
	}
	return g.Wait()
}

func (c *Consumer) fetchLoop(ctx context.Context, sub *nats.Subscription, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fctx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if fatal(err) {
				return err
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			continue
		}

		for _, msg := range msgs {
			c.settle(msg, c.dispatch(context.WithoutCancel(ctx), msg, h))
		}
	}
}

// dispatch runs the handler while keeping the delivery alive. A panicking
// handler settles the message with Ack.
func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg, h Handler) (action Action) {
	stop := make(chan struct{})
	defer close(stop)
	go c.keepAlive(msg, stop)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue handler panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			action = Ack
		}
	}()

	return h(ctx, msg.Data)
}

func (c *Consumer) keepAlive(msg *nats.Msg, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.AckWait / 2)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := msg.InProgress(); err != nil {
				slog.Warn("NATS InProgress", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Consumer) settle(msg *nats.Msg, action Action) {
	var err error
	switch action {
	case Nak:
		err = msg.NakWithDelay(c.cfg.NakDelay)
	default:
		err = msg.Ack()
	}
	if err != nil {
		slog.Warn("NATS settle", slog.String("action", action.String()), slog.String("error", err.Error()))
	}
}

// fatal reports whether the subscription is unusable and must be rebuilt.
func fatal(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrBadSubscription) ||
		errors.Is(err, nats.ErrConsumerDeleted) ||
		errors.Is(err, nats.ErrConsumerNotFound)
}

func errString(err error) string {
	if err == nil {
		return "session ended"
	}
	return err.Error()
}
