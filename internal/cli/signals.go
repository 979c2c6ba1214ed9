package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	verrors "github.com/wrenhall/village/internal/errors"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT/SIGTERM.
// A second signal forces an immediate exit.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s, finishing the current step...\n", sig)
		cancel()

		// Second signal forces immediate exit
		sig = <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s again, forcing exit\n", sig)
		os.Exit(verrors.ExitInterrupted)
	}()

	return ctx, cancel
}
