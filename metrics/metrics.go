// Package metrics counts access lifecycle activity in Prometheus.
package metrics

import (
	"context"

	"github.com/goliatone/go-access"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "access"

// Collector holds the lifecycle counters.
type Collector struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	logins      *prometheus.CounterVec
}

// New registers the counters on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Count of access lifecycle events by type",
		}, []string{"event"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Count of doctor status transitions",
		}, []string{"from", "to"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Count of login attempts by result",
		}, []string{"result", "reason"}),
	}
}

// Record implements access.ActivitySink.
func (c *Collector) Record(_ context.Context, event access.ActivityEvent) error {
	c.events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case access.ActivityEventUserStatusChanged:
		c.transitions.WithLabelValues(string(event.FromStatus), string(event.ToStatus)).Inc()
	case access.ActivityEventLoginSuccess:
		c.logins.WithLabelValues("success", "").Inc()
	case access.ActivityEventLoginFailure:
		reason, _ := event.Metadata["reason"].(string)
		c.logins.WithLabelValues("failure", reason).Inc()
	}

	return nil
}

var _ access.ActivitySink = (*Collector)(nil)
