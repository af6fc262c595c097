package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(bootstrap.Open).ExecuteContext(ctx); err != nil {
		log.Error("semmem failed", "error", err)
		stop()
		os.Exit(1)
	}
}
