package pubsub

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tornpsql/tornpsql/postgres"
)

// DefaultHeartbeat is the longest a single wait for notifications may block
// before the stream checks its subscriptions and context again.
const DefaultHeartbeat = 5 * time.Second

type Option func(*options)

type options struct {
	heartbeat  time.Duration
	logger     postgres.Logger
	registerer prometheus.Registerer
}

func newOptions() *options {
	return &options{
		heartbeat: DefaultHeartbeat,
	}
}

func (o *options) validate() error {
	if o.heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be greater than zero", postgres.ErrInvalidArgument)
	}

	return nil
}

func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeat = d
	}
}

func WithLogger(logger postgres.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsRegisterer registers the stream's Prometheus collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
