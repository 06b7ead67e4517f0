package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Using a separate function ensures all defers
// execute even on error paths, unlike os.Exit which skips deferred calls.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedgraph",
		Short: "Build and query the waker graph of thread executing spans",
		Long: `schedgraph turns decoded scheduler records (thread states, context
switches and wakeups) into executing spans linked to the span that woke them,
stores them in a SQLite span database and answers ancestor and descendant
queries over the resulting forest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newBuildCmd(),
		newServeCmd(),
		newTraversalCmd("descendants"),
		newTraversalCmd("ancestors"),
		newSpuriousCmd(),
		newSpanOfCmd(),
	)
	return root
}
