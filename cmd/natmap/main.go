package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := CmdRoot().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
