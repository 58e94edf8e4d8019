package flowmesh

import (
	"math/rand"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/x"

	"github.com/flowmesh/flowmesh/extension"
	"github.com/flowmesh/flowmesh/service/dispatch"
	"github.com/flowmesh/flowmesh/service/event"
	"github.com/flowmesh/flowmesh/service/lifecycle"
	"github.com/flowmesh/flowmesh/service/messaging"
	"github.com/flowmesh/flowmesh/service/meta"
	"github.com/flowmesh/flowmesh/service/registry"
	"github.com/flowmesh/flowmesh/service/secret"
	"github.com/flowmesh/flowmesh/service/statestore"
	statememory "github.com/flowmesh/flowmesh/service/statestore/memory"
	"github.com/flowmesh/flowmesh/service/template"
)

// Service assembles the engine components behind a Runtime façade.
type Service struct {
	config         *Config
	runtime        *Runtime
	store          statestore.Service
	metaService    *meta.Service
	metaBaseURL    string
	metaFsOptions  []storage.Option
	extensionTypes []*x.Type
	queueVendor    messaging.Vendor
	eventService   *event.Service
	retryRandom    *rand.Rand
}

// New creates the engine service. With no options everything runs in memory.
func New(options ...Option) *Service {
	ret := &Service{runtime: &Runtime{}}
	ret.init(options)
	return ret
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()

	types := extension.NewTypes()
	for _, aType := range s.extensionTypes {
		types.Register(aType)
	}
	registryService := registry.New(types)
	templates := template.New(registryService, s.metaService, s.config.Validation)

	lifecycleOptions := make([]lifecycle.Option, 0, 2)
	if s.eventService != nil {
		if publisher, err := event.PublisherOf[event.StateTransition](s.eventService); err == nil {
			lifecycleOptions = append(lifecycleOptions, lifecycle.WithPublisher(publisher))
		}
	}
	if s.retryRandom != nil {
		lifecycleOptions = append(lifecycleOptions, lifecycle.WithRandom(s.retryRandom))
	}
	lifecycleService := lifecycle.New(s.store, templates, lifecycleOptions...)

	s.runtime.store = s.store
	s.runtime.registry = registryService
	s.runtime.templates = templates
	s.runtime.lifecycle = lifecycleService
	s.runtime.dispatcher = dispatch.New(s.store, lifecycleService, s.config.Dispatch)
	s.runtime.secrets = secret.New(s.store, templates)
	s.runtime.events = s.eventService
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.metaService == nil {
		s.metaService = meta.New(afs.New(), s.metaBaseURL, s.metaFsOptions...)
	}
	if s.store == nil {
		s.store = statememory.New()
	}
	if s.queueVendor == "" {
		s.queueVendor = messaging.VendorMemory
	}
	if s.eventService == nil {
		s.eventService, _ = event.New(s.queueVendor)
	}
}

// Runtime returns the operation façade.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Events returns the transition event service.
func (s *Service) Events() *event.Service {
	return s.eventService
}
