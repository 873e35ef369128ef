package notify

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamehub_notify_delivered_total",
		Help: "Messages accepted into subscriber mailboxes",
	})

	deliveryFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehub_notify_delivery_failed_total",
		Help: "Messages that could not be delivered, by reason",
	}, []string{"reason"})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamehub_notify_subscribers",
		Help: "Currently registered subscribers",
	})
)

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSubscriberNotFound):
		return "not_found"
	case errors.Is(err, ErrMailboxFull):
		return "full"
	case errors.Is(err, ErrMailboxClosed):
		return "closed"
	default:
		return "other"
	}
}
