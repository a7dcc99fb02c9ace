// Package metrics exposes Prometheus counters for workflow mutations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	transitionTotal   *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	notifyTotal       *prometheus.CounterVec
	rollbackTotal     *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		transitionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisions",
			Name:      "transition_total",
			Help:      "Total number of workflow events applied or rejected by the server.",
		}, []string{"entity", "event", "result"}),
		transitionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "decisions",
			Name:      "transition_latency_seconds",
			Help:      "Latency of load, apply and save for one workflow event.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5,
			},
		}, []string{"entity", "event"}),
		notifyTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisions",
			Name:      "notify_total",
			Help:      "Total number of outgoing notifications.",
		}, []string{"channel", "result"}),
		rollbackTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisions",
			Name:      "client_rollback_total",
			Help:      "Optimistic mutations rolled back by the client.",
		}, []string{"entity", "code"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// Transition records one server side event. result is "ok" or a stop code.
func Transition(entity, event, result string, took time.Duration) {
	m := getMetrics()
	m.transitionTotal.WithLabelValues(entity, event, result).Inc()
	m.transitionLatency.WithLabelValues(entity, event).Observe(took.Seconds())
}

func Notification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	getMetrics().notifyTotal.WithLabelValues(channel, result).Inc()
}

func Rollback(entity, code string) {
	getMetrics().rollbackTotal.WithLabelValues(entity, code).Inc()
}
