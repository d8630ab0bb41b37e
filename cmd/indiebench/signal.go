package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// contextWithSignal returns a context cancelled on SIGINT or SIGTERM.
// Cached work survives interruption, so a second ^C is never needed:
// in-flight API calls abort with the context.
func contextWithSignal() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
