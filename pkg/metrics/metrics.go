package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPartial = "partial"
	ResultNoSubs  = "no_subscribers"
)

// Post mode label values
const (
	ModeBlocking    = "blocking"
	ModeNonBlocking = "nonblocking"
)

var (
	// Registry metrics
	ParametersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubparam_parameters_total",
			Help: "Number of live parameters in the registry",
		},
	)

	SubscriptionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubparam_subscriptions_total",
			Help: "Number of subscriber entries across all parameters",
		},
	)

	// Fan-out metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubparam_notifications_total",
			Help: "New-state multicasts by mode and result",
		},
		[]string{"mode", "result"},
	)

	NotifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pubparam_notify_duration_seconds",
			Help:    "Time spent delivering one new-state multicast",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	WriteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubparam_write_requests_total",
			Help: "Write requests posted to parameter owners by result",
		},
		[]string{"result"},
	)

	// Event bus metrics
	BusPostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubparam_bus_posts_total",
			Help: "Messages posted to event loops by mode and result",
		},
		[]string{"mode", "result"},
	)

	BusDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubparam_bus_dispatched_total",
			Help: "Messages dispatched to handlers by loop",
		},
		[]string{"loop"},
	)

	// Scheduler metrics
	ScheduledEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubparam_scheduler_events",
			Help: "Events currently held by the deadline scheduler",
		},
	)

	SchedulerFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubparam_scheduler_firings_total",
			Help: "Scheduler firings by result",
		},
		[]string{"result"},
	)

	SchedulerLateness = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pubparam_scheduler_lateness_seconds",
			Help:    "Delay between an event deadline and its firing",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(ParametersTotal)
	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotifyDuration)
	prometheus.MustRegister(WriteRequestsTotal)
	prometheus.MustRegister(BusPostsTotal)
	prometheus.MustRegister(BusDispatchedTotal)
	prometheus.MustRegister(ScheduledEvents)
	prometheus.MustRegister(SchedulerFiringsTotal)
	prometheus.MustRegister(SchedulerLateness)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
