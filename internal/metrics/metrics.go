package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nudge"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
type Metrics struct {
	eventsDetected *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	jobsEnqueued   prometheus.Counter
	jobOutcomes    *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	drainDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg. Collectors already
// registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_detected_total",
			Help:      "Life events detected from user text.",
		}, []string{"type", "detector"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decision engine outcomes by branch.",
		}, []string{"branch"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Notification jobs created by the scheduler.",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Notification jobs processed by final status.",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Channel send attempts by channel and result.",
		}, []string{"channel", "result"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_drain_seconds",
			Help:      "Time spent draining one batch of the notification queue.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector, nil
			}
			return nil, err
		}
		return c, nil
	}

	var err error
	var c prometheus.Collector
	if c, err = register(m.eventsDetected); err != nil {
		return nil, err
	}
	m.eventsDetected = c.(*prometheus.CounterVec)
	if c, err = register(m.decisions); err != nil {
		return nil, err
	}
	m.decisions = c.(*prometheus.CounterVec)
	if c, err = register(m.jobsEnqueued); err != nil {
		return nil, err
	}
	m.jobsEnqueued = c.(prometheus.Counter)
	if c, err = register(m.jobOutcomes); err != nil {
		return nil, err
	}
	m.jobOutcomes = c.(*prometheus.CounterVec)
	if c, err = register(m.deliveries); err != nil {
		return nil, err
	}
	m.deliveries = c.(*prometheus.CounterVec)
	if c, err = register(m.drainDuration); err != nil {
		return nil, err
	}
	m.drainDuration = c.(prometheus.Histogram)

	return m, nil
}

func (m *Metrics) EventDetected(eventType, detector string) {
	if m == nil {
		return
	}
	m.eventsDetected.WithLabelValues(eventType, detector).Inc()
}

func (m *Metrics) Decision(branch string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(branch).Inc()
}

func (m *Metrics) JobEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

func (m *Metrics) JobOutcome(status string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) Delivery(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(d.Seconds())
}
