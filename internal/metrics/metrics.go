package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notesync"

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total scoring provider requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of scoring provider requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	rasterizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rasterizations_total",
			Help:      "Page-asset cache lookups by result (hit, miss, failed)",
		},
		[]string{"result"},
	)

	rasterLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rasterization_duration_seconds",
			Help:      "Time to rasterize and store every page of a document",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	assemblies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assemblies_total",
			Help:      "Composite PDF assemblies by result",
		},
		[]string{"result"},
	)

	selectionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_dropped_total",
			Help:      "Page selections skipped during assembly by reason",
		},
		[]string{"reason"},
	)

	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Submission evaluation outcomes",
		},
		[]string{"outcome"},
	)

	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Evaluation runs by trigger (sweep, manual)",
		},
		[]string{"trigger"},
	)

	weeksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weeks_completed_total",
			Help:      "Weeks transitioned to completed",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by provider, model and action",
		},
		[]string{"provider", "model", "action"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and result",
		},
		[]string{"sink", "result"},
	)

	initOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(providerReqs, providerLatency, rasterizations, rasterLatency,
			assemblies, selectionsDropped, evaluations, sweeps, weeksCompleted, breakerEvents, notifications)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, model, result).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncRasterize(result string)          { rasterizations.WithLabelValues(result).Inc() }
func ObserveRasterize(dur time.Duration)  { rasterLatency.Observe(dur.Seconds()) }
func IncAssembly(result string)           { assemblies.WithLabelValues(result).Inc() }
func IncSelectionDropped(reason string)   { selectionsDropped.WithLabelValues(reason).Inc() }
func IncEvaluation(outcome string)        { evaluations.WithLabelValues(outcome).Inc() }
func IncRun(trigger string)               { sweeps.WithLabelValues(trigger).Inc() }
func IncWeekCompleted()                   { weeksCompleted.Inc() }
func IncNotification(sink, result string) { notifications.WithLabelValues(sink, result).Inc() }

func BreakerOpened(provider, model string) {
	breakerEvents.WithLabelValues(provider, model, "opened").Inc()
}

func BreakerClosed(provider, model string) {
	breakerEvents.WithLabelValues(provider, model, "closed").Inc()
}
