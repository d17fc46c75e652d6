// Command prbot reconciles a fleet of repositories: for every
// configured repository it checks whether the source branch
// carries changes the target branch lacks and, after operator
// confirmation, opens a pull request through a dated staging
// branch.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// streams carries the process standard streams so tests can
// substitute buffers.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	cmd := newRootCmd(streams{
		in:  os.Stdin,
		out: os.Stdout,
		err: os.Stderr,
	})

	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "error", err)
		stop()
		os.Exit(1)
	}
}
