package videoroom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRemoteFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videoroom_remote_feeds",
			Help: "Number of remote feeds currently known to the room",
		},
	)

	metricReadyFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videoroom_ready_feeds",
			Help: "Number of remote feeds with media attached",
		},
	)

	metricSubstreamSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "videoroom_substream_switches_total",
			Help: "Number of substream switch requests sent to the server",
		},
	)

	metricFatalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "videoroom_fatal_errors_total",
			Help: "Number of fatal session errors surfaced to the caller",
		},
	)
)

func init() {
	prometheus.MustRegister(metricRemoteFeeds)
	prometheus.MustRegister(metricReadyFeeds)
	prometheus.MustRegister(metricSubstreamSwitches)
	prometheus.MustRegister(metricFatalErrors)
	prometheus.MustRegister(prometheus.NewBuildInfoCollector())
}

// MetricsHandler returns the prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}
