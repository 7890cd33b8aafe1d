package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current open connections, logged in or not
	AcceptErrors      atomic.Int64 // failed Accept calls
	TotalDisconnects  atomic.Int64 // connections closed for any reason

	// Admission counters
	SuccessfulLogins atomic.Int64
	FailedLogins     atomic.Int64 // empty or taken names

	// Traffic counters
	ChatMessages   atomic.Int64 // chat messages accepted for broadcast
	FramesIn       atomic.Int64 // frames read from clients
	FramesOut      atomic.Int64 // frames written to clients
	FramesDropped  atomic.Int64 // malformed, unknown or out-of-state frames
	QueueOverflows atomic.Int64 // outbound frames dropped on a full session queue
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	OnlineUsers int64 `json:"online_users"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	AcceptErrors      int64 `json:"accept_errors"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`

	ChatMessages   int64 `json:"chat_messages"`
	FramesIn       int64 `json:"frames_in"`
	FramesOut      int64 `json:"frames_out"`
	FramesDropped  int64 `json:"frames_dropped"`
	QueueOverflows int64 `json:"queue_overflows"`
}

// Snapshot returns a read-consistent snapshot of all metrics. online is the
// current roster size, which the registry owns.
func (m *Metrics) Snapshot(online int) MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		OnlineUsers:       int64(online),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		AcceptErrors:      m.AcceptErrors.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulLogins:  m.SuccessfulLogins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		ChatMessages:      m.ChatMessages.Load(),
		FramesIn:          m.FramesIn.Load(),
		FramesOut:         m.FramesOut.Load(),
		FramesDropped:     m.FramesDropped.Load(),
		QueueOverflows:    m.QueueOverflows.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON(online int) string {
	data, err := json.MarshalIndent(m.Snapshot(online), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary(online int) {
	s := m.Snapshot(online)
	slog.Info("metrics",
		"uptime", s.Uptime,
		"online", s.OnlineUsers,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chat_msgs", s.ChatMessages,
		"frames_dropped", s.FramesDropped,
		"queue_overflows", s.QueueOverflows,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, online func() int, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(online())
			}
		}
	}()
}
