package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/you-humble/snapchef/api/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Metrics(),
					di.Router(ctx).MountRoutes(mux),
				),
			),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitorDone := a.di.Janitor(ctx).Start(janitorCtx)
	slog.Info("cleanup running...", slog.Duration("interval", a.di.Config().CleanupInterval))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, err)
	}

	stopJanitor()
	<-janitorDone
	a.di.Close(shutdownCtx)

	slog.Info("server gracefully stopped")
	return runErr
}
