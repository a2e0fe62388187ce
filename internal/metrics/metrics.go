// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome.",
	}, []string{"outcome"})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "session_transitions_total",
		Help:      "Attendance sessions started and stopped.",
	}, []string{"action"})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "admin_logins_total",
		Help:      "Admin login attempts by result.",
	}, []string{"result"})

	ActiveSession = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "active_session",
		Help:      "1 while an attendance session is open.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"limiter"})
)

// SetActive records whether a session is open.
func SetActive(open bool) {
	if open {
		ActiveSession.Set(1)
		return
	}
	ActiveSession.Set(0)
}
