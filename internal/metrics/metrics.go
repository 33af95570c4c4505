// Package metrics exposes Prometheus counters for the question and answer workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qna"

// Recorder owns a dedicated registry and the workflow counters registered on it.
type Recorder struct {
	registry             *prometheus.Registry
	votes                *prometheus.CounterVec
	answersAccepted      prometheus.Counter
	notificationsCreated *prometheus.CounterVec
}

// NewRecorder registers the workflow counters plus the Go and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote ledger mutations by target, direction and action.",
		}, []string{"target", "direction", "action"}),
		answersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_accepted_total",
			Help:      "Answers marked accepted by question authors.",
		}),
		notificationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications persisted by type.",
		}, []string{"type"}),
	}
}

// VoteRecorded counts one vote add or remove.
func (r *Recorder) VoteRecorded(target, direction, action string) {
	r.votes.WithLabelValues(target, direction, action).Inc()
}

// AnswerAccepted counts one acceptance.
func (r *Recorder) AnswerAccepted() {
	r.answersAccepted.Inc()
}

// NotificationCreated counts one stored notification.
func (r *Recorder) NotificationCreated(notificationType string) {
	r.notificationsCreated.WithLabelValues(notificationType).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
