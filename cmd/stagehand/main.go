package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stagehand-sh/stagehand/internal/telemetry"
)

// Version is set via -ldflags at release time.
var Version = "0.3.0-dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := telemetry.Init(ctx, "stagehand", Version); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
	}
	defer telemetry.Shutdown(context.Background())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		exitWithError(err)
	}
}
