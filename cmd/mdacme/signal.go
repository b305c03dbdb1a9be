package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// withSignalCancel returns a context that is cancelled the first time the
// process receives SIGINT, SIGTERM or SIGHUP, so a long drive poll loop
// unwinds through its deferred challenge-server shutdown instead of being
// killed out from under its listeners.
//
// Adapted from cmd/command.go's CatchSignals, which blocked synchronously on
// a signal channel and ran a callback before calling os.Exit itself; this
// version instead cancels a context so the caller's own defer chain runs.
func withSignalCancel(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "mdacme: caught %s, shutting down\n", sig)
			cancel()
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
