// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paced_downloader"

var (
	registerOnce sync.Once

	downloadsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_started_total",
		Help:      "Total number of download attempts started by quality",
	}, []string{"quality"})
	downloadsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_completed_total",
		Help:      "Total number of downloads completed by quality",
	}, []string{"quality"})
	downloadsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_failed_total",
		Help:      "Total number of failed download attempts by error kind",
	}, []string{"kind"})
	downloadsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_cancelled_total",
		Help:      "Total number of downloads cancelled by removal, pause or shutdown",
	})
	downloadsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_retried_total",
		Help:      "Total number of downloads re-queued after a retryable failure",
	})
	downloadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Histogram of download attempt durations in seconds by quality",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s up to ~17 minutes
	}, []string{"quality"})
	downloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Total bytes written by completed downloads",
	})
	pacingDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pacing_delay_seconds",
		Help:      "Delays inserted between download starts",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Items waiting in the queue",
	})
	activeDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_downloads",
		Help:      "Downloads currently in progress",
	})
	ratePerHour = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_last_hour",
		Help:      "Completed downloads in the trailing hour",
	})
	highVolume = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "high_volume_mode",
		Help:      "1 while pacing delays are scaled down for a deep queue",
	})
	breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker position: 0 closed, 1 open, 2 half-open",
	})
	breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_transitions_total",
		Help:      "Circuit breaker state changes by target state",
	}, []string{"to"})
	limiterTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limiter_tokens",
		Help:      "Tokens currently available per limiter",
	}, []string{"limiter"})
	persistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Snapshot or status writes that failed",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(downloadsStarted, downloadsCompleted, downloadsFailed, downloadsCancelled,
			downloadsRetried, downloadDuration, downloadedBytes, pacingDelay,
			queueDepth, activeDownloads, ratePerHour, highVolume,
			breakerState, breakerTransitions, limiterTokens, persistenceFailures)
	})
}

// Download lifecycle helpers
func IncStarted(quality string)   { downloadsStarted.WithLabelValues(quality).Inc() }
func IncCompleted(quality string) { downloadsCompleted.WithLabelValues(quality).Inc() }
func IncFailed(kind string)       { downloadsFailed.WithLabelValues(kind).Inc() }
func IncCancelled()               { downloadsCancelled.Inc() }
func IncRetried()                 { downloadsRetried.Inc() }
func AddBytes(n int64) {
	if n > 0 {
		downloadedBytes.Add(float64(n))
	}
}
func ObserveDuration(quality string, d time.Duration) {
	downloadDuration.WithLabelValues(quality).Observe(d.Seconds())
}
func ObservePacingDelay(d time.Duration) { pacingDelay.Observe(d.Seconds()) }
func IncPersistenceFailure()             { persistenceFailures.Inc() }

// Gauges
func SetQueueDepth(n int)      { queueDepth.Set(float64(n)) }
func SetActive(n int)          { activeDownloads.Set(float64(n)) }
func SetRatePerHour(n int)     { ratePerHour.Set(float64(n)) }
func SetHighVolume(on bool)    { highVolume.Set(boolToFloat(on)) }
func SetBreakerState(s int)    { breakerState.Set(float64(s)) }
func IncBreakerTransition(to string) {
	breakerTransitions.WithLabelValues(to).Inc()
}
func SetLimiterTokens(name string, tokens float64) {
	limiterTokens.WithLabelValues(name).Set(tokens)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
