package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "herd_dashboard"

var (
	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Stream frames read from the live connection.",
	})
	FramesMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_malformed_total",
		Help:      "Stream frames dropped because they could not be parsed.",
	})
	FramesIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_ignored_total",
		Help:      "Stream frames with an unrecognised type.",
	})
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Scheduled reconnects after a dropped or failed connection.",
	})
	ConnectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_status",
		Help:      "1 for the current stream connection status, 0 otherwise.",
	}, []string{"status"})

	PointsMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_merged_total",
		Help:      "New points accepted into device histories, by source.",
	}, []string{"source"})
	PointsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_rejected_total",
		Help:      "Points dropped before merge because they failed to decode.",
	}, []string{"source"})
	DevicesByMotion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "devices_by_motion",
		Help:      "Devices per motion label.",
	}, []string{"state"})
	MotionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "motion_transitions_total",
		Help:      "Motion label changes, by new label.",
	}, []string{"state"})

	PollResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_results_total",
		Help:      "REST snapshot polls by outcome.",
	}, []string{"result"})

	AlertsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_forwarded_total",
		Help:      "Alerts handed to alert sinks.",
	})
	AlertsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_deduplicated_total",
		Help:      "Alerts dropped as redeliveries.",
	})
	AlertArchiveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_archive_failures_total",
		Help:      "Alerts that could not be queued for or written to the archive.",
	})
	StateChannelDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_channel_drops_total",
		Help:      "Device state updates dropped because the writer queue was full.",
	})
	AlertChannelDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_channel_drops_total",
		Help:      "Alerts dropped because the forwarder queue was full.",
	})
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()
)

// Register adds all collectors to the package registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		registry.MustRegister(
			FramesReceived,
			FramesMalformed,
			FramesIgnored,
			ReconnectAttempts,
			ConnectionStatus,
			PointsMerged,
			PointsRejected,
			DevicesByMotion,
			MotionTransitions,
			PollResults,
			AlertsForwarded,
			AlertsDeduplicated,
			AlertArchiveFailures,
			StateChannelDrops,
			AlertChannelDrops,
		)
	})
}

// SetConnectionStatus flips the status gauge so exactly one label is 1.
func SetConnectionStatus(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		ConnectionStatus.WithLabelValues(s).Set(v)
	}
}

func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
