package interceptor

import (
	"github.com/pion/interceptor"
	"github.com/pion/logging"

	"github.com/streamware/abr/pkg/abr"
)

// Factory creates a StatsInterceptor per PeerConnection. Register it with
// the interceptor registry of the sending peer; the OnStatsSource callback
// hands each created source to the application so it can be wired into an
// abr.Controller.
type Factory struct {
	loggerFactory logging.LoggerFactory
	onStatsSource func(id string, source abr.StatsSource)
}

// FactoryOption configures the Factory.
type FactoryOption func(*Factory)

// WithLoggerFactory sets the logger factory used for created interceptors.
func WithLoggerFactory(f logging.LoggerFactory) FactoryOption {
	return func(fa *Factory) { fa.loggerFactory = f }
}

// WithOnStatsSource registers a callback invoked with every created stats
// source and the ID of the PeerConnection it observes.
func WithOnStatsSource(fn func(id string, source abr.StatsSource)) FactoryOption {
	return func(fa *Factory) { fa.onStatsSource = fn }
}

// NewFactory creates a stats interceptor factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	if f.loggerFactory == nil {
		f.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return f
}

// NewInterceptor creates a StatsInterceptor for one PeerConnection. Called
// by the interceptor registry.
func (f *Factory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	si := NewStatsInterceptor(WithLogger(f.loggerFactory.NewLogger("abr_interceptor")))
	if f.onStatsSource != nil {
		f.onStatsSource(id, si)
	}
	return si, nil
}
