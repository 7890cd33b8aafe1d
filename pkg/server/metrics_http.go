package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NicolasHaas/relaychat/pkg/version"
)

// MetricsHandler returns the HTTP handler serving /metrics in Prometheus text
// exposition format and /healthz.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// StartMetricsHTTP starts the metrics HTTP server in the background. It shuts
// down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot(s.registry.Online())

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP relaychat_build_info Build version of the running server.\n")
	_, _ = fmt.Fprintf(w, "# TYPE relaychat_build_info gauge\n")
	_, _ = fmt.Fprintf(w, "relaychat_build_info{version=%q} 1\n", version.String())

	write("relaychat_uptime_seconds", "Server uptime in seconds.", "gauge", snap.UptimeSeconds)
	write("relaychat_users_online", "Authenticated sessions.", "gauge", snap.OnlineUsers)

	write("relaychat_connections_active", "Open TCP connections.", "gauge", snap.ActiveConnections)
	write("relaychat_connections_total", "Lifetime TCP connections accepted.", "counter", snap.TotalConnections)
	write("relaychat_accept_errors_total", "Failed accept calls.", "counter", snap.AcceptErrors)
	write("relaychat_disconnects_total", "Closed connections.", "counter", snap.TotalDisconnects)

	write("relaychat_logins_total", "Successful logins.", "counter", snap.SuccessfulLogins)
	write("relaychat_logins_failed_total", "Rejected logins.", "counter", snap.FailedLogins)

	write("relaychat_chat_messages_total", "Chat messages broadcast.", "counter", snap.ChatMessages)
	write("relaychat_frames_in_total", "Frames read from clients.", "counter", snap.FramesIn)
	write("relaychat_frames_out_total", "Frames written to clients.", "counter", snap.FramesOut)
	write("relaychat_frames_dropped_total", "Ignored inbound frames.", "counter", snap.FramesDropped)
	write("relaychat_queue_overflows_total", "Outbound frames dropped on full queues.", "counter", snap.QueueOverflows)
}
