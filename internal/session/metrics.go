package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptbase_sessions_opened_total",
		Help: "Sessions created by a successful login or signup.",
	})

	sessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptbase_sessions_revoked_total",
		Help: "Sessions removed, by reason.",
	}, []string{"reason"})

	touchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptbase_session_touches_dropped_total",
		Help: "Last-activity updates discarded because the touch queue was full.",
	})
)
