// Package metrics exposes the servent's Prometheus instrumentation:
// query/hit throughput, search activity, and download/scheduler gauges.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	QueriesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "servent_queries_received_total", Help: "Incoming queries by terminal drop reason, or \"matched\" when a hit was produced"},
		[]string{"outcome"},
	)
	QueryHitsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "servent_query_hits_sent_total", Help: "QueryHit packets emitted in response to local matches"},
	)
	QueryHitsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "servent_query_hits_received_total", Help: "Incoming QueryHit packets by decode outcome"},
		[]string{"outcome"},
	)

	SearchesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "servent_searches_active", Help: "Searches currently holding at least one live MUID"},
	)
	SearchReissues = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "servent_search_reissues_total", Help: "Search reissue cycles started"},
	)

	DownloadsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "servent_downloads_running", Help: "Downloads currently in a connected/transferring state"},
	)
	DownloadsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "servent_downloads_completed_total", Help: "Downloads that reached a terminal state, by result"},
		[]string{"result"},
	)
	DownloadBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "servent_download_bytes_received_total", Help: "Payload bytes received across all downloads"},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "servent_scheduler_tick_seconds", Help: "Wall time spent per DownloadScheduler tick", Buckets: prometheus.DefBuckets},
	)

	PushAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "servent_push_attempts_total", Help: "Push-proxy and routed-PUSH attempts by outcome"},
		[]string{"outcome"},
	)
)

// Register installs every collector into the default registry exactly
// once, so packages can call Register from an init-adjacent Setup step
// without risking a duplicate-registration panic on repeated calls.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueriesReceived,
			QueryHitsSent,
			QueryHitsReceived,
			SearchesActive,
			SearchReissues,
			DownloadsRunning,
			DownloadsCompleted,
			DownloadBytesReceived,
			SchedulerTickDuration,
			PushAttempts,
		)
	})
}
