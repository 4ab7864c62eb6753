package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// exitInterrupted is the conventional status for death by SIGINT.
const exitInterrupted = 130

// shutdownContext derives a context that is canceled by the first SIGINT or
// SIGTERM. An apply then stops between operations, leaving at most .partial
// files behind. A second signal exits the process immediately. stop
// releases the signal handler and must be called when the command returns.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})

	go func() {
		for n := 1; ; n++ {
			select {
			case <-stopped:
				return
			case sig := <-sigs:
				if n > 1 {
					logger.Warn("signal: second signal, exiting now", slog.String("signal", sig.String()))
					os.Exit(exitInterrupted)
				}

				logger.Info("signal: stopping after in-flight operations", slog.String("signal", sig.String()))
				cancel()
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stopped)
			cancel()
		})
	}
}
