package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "promptbase_identity_events_dropped_total",
	Help: "Identity events discarded because the publish queue was full.",
})
