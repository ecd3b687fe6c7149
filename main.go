// hublink - a supervised client for OpenLCB hubs found over mDNS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hublink/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hublink: %v\n", err)
		os.Exit(1)
	}
}
