package wapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", di.Metrics().Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &app{
		di: di,
		srv: &http.Server{
			Addr:              di.Config().MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	processor := a.di.Processor(ctx)
	consumer := a.di.Consumer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker starting...",
			slog.Int("prefetch", a.di.Config().Worker.Prefetch),
			slog.Int("max_inflight", a.di.Config().Worker.MaxInflight),
		)
		return consumer.Run(gctx, processor.Handle)
	})

	g.Go(func() error {
		slog.Info("starting metrics server", slog.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("worker shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.di.Close(closeCtx)

	slog.Info("worker stopped")
	return err
}
