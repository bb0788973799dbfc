// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mchomak/quizpilot/cmd"
	"github.com/mchomak/quizpilot/internal/observability"
)

// main is the entry point for the quizpilot CLI.
func main() {
	// Interrupts cancel the run context: in-flight waits abort, the
	// orchestrator stops launching targets, and the browser shuts down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cmd.Execute(ctx)

	stop()
	observability.Sync()
	os.Exit(code)
}
