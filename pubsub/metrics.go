package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tornpsql/tornpsql/postgres"
)

type metrics struct {
	notifications *prometheus.CounterVec
	heartbeats    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pubsub",
			Name:      "notifications_total",
			Help:      "Notifications received by channel.",
		}, []string{"channel"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pubsub",
			Name:      "heartbeats_total",
			Help:      "Waits that ended without a notification.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error

	if m.notifications, err = postgres.RegisterCollector(reg, m.notifications); err != nil {
		return nil, err
	}

	if m.heartbeats, err = postgres.RegisterCollector(reg, m.heartbeats); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) notificationReceived(channel string) {
	m.notifications.WithLabelValues(channel).Inc()
}

func (m *metrics) heartbeat() { m.heartbeats.Inc() }
