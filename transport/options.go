package transport

import "github.com/rs/zerolog"

const (
	namePersistent      = "persistent"
	nameReinstantiating = "reinstantiating"
)

type options struct {
	log     zerolog.Logger
	metrics *Metrics
}

// Option configures a transport at construction time.
type Option func(*options)

// WithLogger sets the logger transports report lifecycle events to.
// The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMetrics records lifecycle events into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(name string, opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With().Str("transport", name).Logger()
	return o
}
