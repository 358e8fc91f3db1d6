package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_tcp_connections_total",
		Help: "Total TCP connections accepted from devices",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gps_tcp_sessions_active",
		Help: "Device sessions currently open",
	})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_heartbeats_total",
		Help: "Heartbeat control signals echoed back",
	})
	ControlTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_control_tokens_total",
		Help: "Out of band control tokens received",
	}, []string{"kind"})
	MessagesRecv = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_messages_received_total",
		Help: "Candidate messages decoded, by resolved protocol tag",
	}, []string{"protocol"})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_acks_sent_total",
		Help: "OK acknowledgments written to devices",
	})
	RawLogErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_rawlog_errors_total",
		Help: "Failed raw log appends",
	})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_sink_errors_total",
		Help: "Failed record submissions, by sink",
	}, []string{"sink"})
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_queue_dropped_total",
		Help: "Records dropped because the persistence queue was full",
	})
	DeviceEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_device_events_dropped_total",
		Help: "Device connect/update events dropped because the notify queue was full",
	})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gps_decode_latency_seconds",
		Help:    "Classification and decode latency per message",
		Buckets: prometheus.ExponentialBuckets(0.000005, 4, 8),
	})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}

// NewMetricsHandler serves /metrics and /healthz.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartMetricsServer blocks until ctx is done.
func StartMetricsServer(ctx context.Context, port string, lg *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Error("metrics server failed", zap.Error(err))
	}
}
