package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/samcharles93/llmc/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.NewLossyCommand().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "llmc: %v\n", err)
		stop()
		os.Exit(1)
	}
}
