package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ManuelReschke/SyncFox/internal/pkg/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := application.New()
	if err := app.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
