package metrics

import (
	"net/http"
	"time"

	"github.com/aoecas/aoecas/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TargetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aoecas_targets_total",
			Help: "Total number of configured targets",
		},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoecas_frames_total",
			Help: "Total number of request frames handled, by command and outcome",
		},
		[]string{"command", "status"},
	)

	FrameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aoecas_frame_duration_seconds",
			Help:    "Time taken to dispatch a request frame and build its response(s)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	BlobPutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aoecas_blob_store_puts_total",
			Help: "Total number of blobs written to the content-addressed store",
		},
	)

	BlobBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aoecas_blob_store_bytes_total",
			Help: "Total bytes of framed block data written to the content-addressed store",
		},
	)

	SnapshotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aoecas_snapshots_total",
			Help: "Total number of snapshots recorded, by target",
		},
		[]string{"target"},
	)

	NBDConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aoecas_nbd_connections_total",
			Help: "Total number of NBD client connections accepted",
		},
	)

	NBDRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoecas_nbd_requests_total",
			Help: "Total number of NBD transmission requests handled, by command",
		},
		[]string{"command"},
	)

	NBDRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aoecas_nbd_request_duration_seconds",
			Help:    "NBD request duration in seconds, by command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(FramesTotal)
	prometheus.MustRegister(FrameDuration)
	prometheus.MustRegister(BlobPutsTotal)
	prometheus.MustRegister(BlobBytesTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(NBDConnectionsTotal)
	prometheus.MustRegister(NBDRequestsTotal)
	prometheus.MustRegister(NBDRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// commandLabel maps a protocol command to the label used on frame
// metrics.
func commandLabel(cmd protocol.Command) string {
	switch cmd {
	case protocol.CommandATA:
		return "ata"
	case protocol.CommandConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Now starts a Timer; ObserveFrame takes its result to record a
// dispatched frame's outcome and latency in one call.
func Now() *Timer { return NewTimer() }

// ObserveFrame records one dispatched request frame: FramesTotal is
// incremented with a "matched" or "dropped" status depending on whether
// any target produced a response, and FrameDuration observes the
// dispatch latency regardless of outcome.
func ObserveFrame(cmd protocol.Command, matched bool, t *Timer) {
	label := commandLabel(cmd)
	status := "dropped"
	if matched {
		status = "matched"
	}
	FramesTotal.WithLabelValues(label, status).Inc()
	t.ObserveDurationVec(FrameDuration, label)
}
