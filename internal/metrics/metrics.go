package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Messages that reached a durable processed record
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmind_messages_processed_total",
			Help: "Total number of messages classified and recorded",
		},
		[]string{"account", "category"},
	)

	// Messages left unmarked for the next cycle
	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmind_messages_skipped_total",
			Help: "Total number of messages left for retry",
		},
		[]string{"account", "reason"}, // reason: oracle, relocation, state, claimed
	)

	// Gateway fallbacks to the default category
	ClassificationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmind_classification_fallbacks_total",
			Help: "Total number of results replaced by the default category",
		},
		[]string{"reason"},
	)

	OracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailmind_oracle_call_duration_seconds",
			Help:    "Classification oracle call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"provider", "status"},
	)

	Relocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmind_relocations_total",
			Help: "Total number of message moves",
		},
		[]string{"account", "status"}, // status: success, failed
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmind_monitor_reconnects_total",
			Help: "Total number of monitor reconnect attempts after a failure",
		},
		[]string{"account", "folder"},
	)

	MonitorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailmind_monitor_state",
			Help: "Current monitor state (0 disconnected, 1 connecting, 2 draining, 3 waiting)",
		},
		[]string{"account", "folder"},
	)

	PoolSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailmind_pool_sessions",
			Help: "Number of pooled IMAP sessions",
		},
	)

	PoolSessionsAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailmind_pool_sessions_alive",
			Help: "Number of pooled IMAP sessions with a live connection at the last check",
		},
	)
)

// RecordProcessed counts a recorded message
func RecordProcessed(account, category string) {
	MessagesProcessed.WithLabelValues(account, category).Inc()
}

// RecordSkipped counts a message left for retry
func RecordSkipped(account, reason string) {
	MessagesSkipped.WithLabelValues(account, reason).Inc()
}

// RecordFallback counts a default-category substitution
func RecordFallback(reason string) {
	ClassificationFallbacks.WithLabelValues(reason).Inc()
}

// RecordOracleCall records oracle latency
func RecordOracleCall(provider, status string, duration time.Duration) {
	OracleCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// RecordRelocation counts a move attempt
func RecordRelocation(account string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	Relocations.WithLabelValues(account, status).Inc()
}

// RecordReconnect counts a monitor reconnect
func RecordReconnect(account, folder string) {
	Reconnects.WithLabelValues(account, folder).Inc()
}

// SetMonitorState publishes a monitor state
func SetMonitorState(account, folder string, state int) {
	MonitorState.WithLabelValues(account, folder).Set(float64(state))
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
