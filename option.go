package flowmesh

import (
	"math/rand"

	"github.com/viant/afs/storage"
	"github.com/viant/x"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flowmesh/flowmesh/service/event"
	"github.com/flowmesh/flowmesh/service/messaging"
	"github.com/flowmesh/flowmesh/service/meta"
	"github.com/flowmesh/flowmesh/service/statestore"
	"github.com/flowmesh/flowmesh/tracing"
)

// Option customises the engine service.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithStateStore sets the state store implementation; the in-memory store is
// the default.
func WithStateStore(store statestore.Service) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithMetaService sets the template loader.
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) {
		s.metaService = service
	}
}

// WithMetaBaseURL sets the base URL template locations resolve against.
func WithMetaBaseURL(url string) Option {
	return func(s *Service) {
		s.metaBaseURL = url
	}
}

// WithMetaFsOptions sets file system options for the template loader.
func WithMetaFsOptions(options ...storage.Option) Option {
	return func(s *Service) {
		s.metaFsOptions = options
	}
}

// WithExtensionTypes registers Go types node runtimes expose as output
// schemas.
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) {
		s.extensionTypes = types
	}
}

// WithQueueVendor selects the transition event queue vendor.
func WithQueueVendor(vendor messaging.Vendor) Option {
	return func(s *Service) {
		s.queueVendor = vendor
	}
}

// WithEventService sets the transition event service.
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.eventService = service
	}
}

// WithRetryRandom sets the random source feeding backoff jitter, letting
// tests pin it.
func WithRetryRandom(random *rand.Rand) Option {
	return func(s *Service) {
		s.retryRandom = random
	}
}

// WithTracing configures OpenTelemetry tracing. With an empty outputFile the
// stdout exporter is used. The first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing with a custom span
// exporter, for example OTLP. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
