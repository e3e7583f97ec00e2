package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/replicator/internal/config"
)

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits on the second. This gives the
// scheduler and active Runners time to drain in-flight operations on
// the first signal, while letting the user force-quit if something
// hangs (spec §4.6 "Operation lock... on timeout the event is logged
// and dropped").
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// watchSIGHUP re-reads the config file on every SIGHUP and publishes it
// through holder/levelVar, the same reload the teacher's Orchestrator
// performs on its SIGHUP channel (internal/sync/orchestrator.go
// RunWatch/reload) — a long-lived `run` daemon is the only command that
// benefits, so this is only wired from runRun, never from the
// short-lived one-shot commands. Stops when ctx is cancelled.
func watchSIGHUP(ctx context.Context, holder *config.Holder, levelVar *slog.LevelVar, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-sigCh:
				logger.Info("SIGHUP received, reloading config", "path", holder.Path())

				cfg, err := config.LoadOrDefault(holder.Path(), logger)
				if err != nil {
					logger.Warn("config reload failed, keeping current config", "error", err)
					continue
				}

				holder.Update(cfg)
				levelVar.Set(effectiveLevel(cfg))

			case <-ctx.Done():
				return
			}
		}
	}()
}
