// Kioku is a travel planning assistant whose agent manages its own tiered
// memory. See `kioku --help` for commands.
//
// Configuration comes from an optional YAML file (--config or KIOKU_CONFIG)
// and environment variables; see internal/kioku/config for the full list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Kioku/internal/kioku/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
