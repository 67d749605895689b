// feedback-client is the kiosk side of FeedbackBox: it submits feedback to the
// configured store and keeps it in a local queue file while the store is
// unreachable.
//
//	feedback-client submit --order ORD-1 --courier 123 --rating 4 --reason Punctuality
//	feedback-client drain
//	feedback-client status
//	feedback-client watch --interval 5s
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/FeedbackBox/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
