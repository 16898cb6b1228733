package core

import (
	"time"

	"BatchLedger/internal/observability"
)

// PromSink adapts the Prometheus catalog to the core's MetricsSink.
type PromSink struct {
	M *observability.Metrics
}

func (s PromSink) EventApplied(eventType string, dur time.Duration) {
	s.M.CoreEventsApplied.WithLabelValues(eventType).Inc()
	s.M.CoreEventDuration.WithLabelValues(eventType).Observe(dur.Seconds())
}

func (s PromSink) EventRejected(eventType, reason string) {
	s.M.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
}

func (s PromSink) ProjectionDropped() {
	s.M.ProjectionDrops.WithLabelValues("core").Inc()
}

func (s PromSink) PersistBlocked() {
	s.M.PersistBackpressure.Inc()
}

func (s PromSink) SetSequence(seq int64) {
	s.M.CoreSequence.Set(float64(seq))
}
