package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/version"
)

// shutdownTimeout bounds how long Run waits for sessions to finish.
const shutdownTimeout = 5 * time.Second

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.presence != nil {
		defer func() {
			if err := s.presence.Close(); err != nil {
				slog.Error("close presence store", "err", err)
			}
		}()

		// rows left open by a previous run that did not shut down cleanly
		ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
		n, err := s.presence.CloseDangling(ctx, time.Now())
		cancel()
		if err != nil {
			slog.Error("close dangling presence rows", "err", err)
		} else if n > 0 {
			slog.Info("closed dangling presence rows", "count", n)
		}
	}

	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("relaychat server running",
		"version", version.String(),
		"listen", s.cfg.ListenAddr,
		"metrics", s.cfg.MetricsAddr,
		"presence_log", s.presence != nil,
	)

	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.registry.Online, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown(shutdownTimeout)
	s.metrics.LogSummary(s.registry.Online())
	return nil
}
