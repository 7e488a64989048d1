package postgres

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	connects *prometheus.CounterVec
	faults   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postgres",
			Name:      "connect_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postgres",
			Name:      "operational_faults_total",
			Help:      "Statements that failed because the connection broke.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error

	if m.connects, err = RegisterCollector(reg, m.connects); err != nil {
		return nil, err
	}

	if m.faults, err = RegisterCollector(reg, m.faults); err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterCollector registers c with reg. If an identical collector is
// already registered it is returned instead, so several clients can share
// one registry.
func RegisterCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		return c, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

func (m *metrics) connectSucceeded() { m.connects.WithLabelValues("success").Inc() }
func (m *metrics) connectFailed()    { m.connects.WithLabelValues("failure").Inc() }
func (m *metrics) operationalFault() { m.faults.Inc() }
