package natsq

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Name string
	// MaxReconnects < 0 keeps reconnecting forever.
	MaxReconnects int
	ReconnectWait time.Duration
}

func NewConnect(url string, cfg Config) (*nats.Conn, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
				return
			}
			slog.Info("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			slog.Info("nats connection closed", slog.String("name", cfg.Name))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return nc, nil
}

// NewJetStream declares the stream idempotently and returns the context.
func NewJetStream(nc *nats.Conn, cfg *nats.StreamConfig) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(cfg)
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	return js, nil
}
