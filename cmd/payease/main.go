// Package main is the entry point for the payease CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/payease/payease/internal/cli"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRoot(version).ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("Error: " + cli.Describe(err) + "\n")
		stop()
		os.Exit(1)
	}
}
