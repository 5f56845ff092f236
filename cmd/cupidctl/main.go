package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cupid/cmd/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cupidctl:", err)
	}
	os.Exit(cli.ExitCode(err))
}
