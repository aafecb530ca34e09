package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/you-humble/snapchef/api/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	a := app.New(ctx)
	if err := a.Run(ctx); err != nil {
		log.Fatalln("api:", err)
	}
}
