package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/discordsync/pkg/log"
)

// WaitForInterruptWithCallback waits for an interrupt signal or for ctx to end and
// executes callback before returning.
func WaitForInterruptWithCallback(ctx context.Context, callback func()) {
	waitForInterruptContext(ctx, callback)
}

// waitForInterruptContext allows tests to inject a context that can be cancelled without real OS signals.
func waitForInterruptContext(parent context.Context, callback func()) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.ApplicationLogger().Info("Received interrupt; executing shutdown callback")

	if callback != nil {
		callback()
	}
}
