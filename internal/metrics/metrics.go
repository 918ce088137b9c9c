package metrics

import (
	"net/http"
	"strings"

	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seqbot"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Sequence metrics
	SessionsActive          prometheus.Gauge
	SessionsStartedTotal    prometheus.Counter
	SequencesCompletedTotal prometheus.Counter
	ItemsBufferedTotal      prometheus.Counter
	ItemsReplayedTotal      *prometheus.CounterVec
	ReplayDuration          prometheus.Histogram
	StatsErrorsTotal        prometheus.Counter

	// Gate metrics
	GateChecksTotal               *prometheus.CounterVec
	MembershipLookupFailuresTotal prometheus.Counter

	// Queue metrics
	QueueTasksTotal   *prometheus.CounterVec
	QueueTaskDuration *prometheus.HistogramVec

	// Telegram metrics
	TelegramUpdatesReceivedTotal prometheus.Counter
	TelegramMessagesSentTotal    prometheus.Counter
	TelegramErrorsTotal          prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Sequence metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of currently open sequence sessions",
			},
		),
		SessionsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of sequence sessions started",
			},
		),
		SequencesCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequences_completed_total",
				Help:      "Total number of sequences replayed",
			},
		),
		ItemsBufferedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_buffered_total",
				Help:      "Total number of files buffered into sessions",
			},
		),
		ItemsReplayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_replayed_total",
				Help:      "Total number of replayed files by result",
			},
			[]string{"result"},
		),
		ReplayDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replay_duration_seconds",
				Help:      "Duration of sequence replays in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		StatsErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_errors_total",
				Help:      "Total number of failed statistics updates after a replay",
			},
		),

		// Gate metrics
		GateChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_checks_total",
				Help:      "Total number of admission checks by result",
			},
			[]string{"result"},
		),
		MembershipLookupFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "membership_lookup_failures_total",
				Help:      "Total number of channel membership lookups that errored",
			},
		),

		// Queue metrics
		QueueTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_tasks_total",
				Help:      "Total number of lane tasks by lane kind and status",
			},
			[]string{"lane", "status"},
		),
		QueueTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_task_duration_seconds",
				Help:      "Duration of lane tasks in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"lane"},
		),

		// Telegram metrics
		TelegramUpdatesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_updates_received_total",
				Help:      "Total number of Telegram updates received",
			},
		),
		TelegramMessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_messages_sent_total",
				Help:      "Total number of Telegram messages sent or copied",
			},
		),
		TelegramErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_errors_total",
				Help:      "Total number of Telegram API errors",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsStartedTotal,
		m.SequencesCompletedTotal,
		m.ItemsBufferedTotal,
		m.ItemsReplayedTotal,
		m.ReplayDuration,
		m.StatsErrorsTotal,

		m.GateChecksTotal,
		m.MembershipLookupFailuresTotal,

		m.QueueTasksTotal,
		m.QueueTaskDuration,

		m.TelegramUpdatesReceivedTotal,
		m.TelegramMessagesSentTotal,
		m.TelegramErrorsTotal,
	)
}

// ObserveGateCheck implements fsub.GateObserver
func (m *Metrics) ObserveGateCheck(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.GateChecksTotal.WithLabelValues(result).Inc()
}

// ObserveMembershipFailure implements fsub.GateObserver
func (m *Metrics) ObserveMembershipFailure() {
	m.MembershipLookupFailuresTotal.Inc()
}

// SessionStarted implements sequence.Observer
func (m *Metrics) SessionStarted() {
	m.SessionsStartedTotal.Inc()
}

// ItemBuffered implements sequence.Observer
func (m *Metrics) ItemBuffered() {
	m.ItemsBufferedTotal.Inc()
}

// SequenceCompleted implements sequence.Observer
func (m *Metrics) SequenceCompleted(report *sequence.Report) {
	m.SequencesCompletedTotal.Inc()
	m.ItemsReplayedTotal.WithLabelValues("delivered").Add(float64(report.Delivered))
	m.ItemsReplayedTotal.WithLabelValues("failed").Add(float64(len(report.Failures)))
	m.ReplayDuration.Observe(report.Duration.Seconds())
	if report.StatsErr != nil {
		m.StatsErrorsTotal.Inc()
	}
}

// ObserveQueue records task outcomes of q. Lanes are labelled by kind, the
// part before the first ':', to keep per-user keys out of the label set.
func (m *Metrics) ObserveQueue(q *commandqueue.CommandQueue) {
	q.On(commandqueue.EventCompleted, func(e commandqueue.Event) {
		lane := laneKind(e.Lane)
		status := "success"
		if e.Err != nil {
			status = "error"
		}
		m.QueueTasksTotal.WithLabelValues(lane, status).Inc()
		m.QueueTaskDuration.WithLabelValues(lane).Observe(e.Duration.Seconds())
	})
}

func laneKind(lane string) string {
	if i := strings.IndexByte(lane, ':'); i >= 0 {
		return lane[:i]
	}
	return lane
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
