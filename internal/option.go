package internal

import "github.com/starford/catnip/internal/metrics"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	metrics *metrics.Metrics
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMetrics sets the metrics registry. A private registry is created when
// none is given.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *application) {
		a.metrics = m
	}
}
