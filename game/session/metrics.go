package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamehub_sessions_active",
		Help: "Sessions held by the registry",
	})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehub_session_mutations_total",
		Help: "Accepted session mutations by operation",
	}, []string{"op"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehub_session_mutations_rejected_total",
		Help: "Rejected session mutations by operation",
	}, []string{"op"})
)
