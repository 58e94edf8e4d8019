// Package registry tracks which runtime serves which node classes. Rows are
// keyed by (namespace, runtime name) in the shared store, so template
// validation sees the same view from every engine instance.
package registry

import (
	"context"
	"fmt"
	"reflect"

	"github.com/flowmesh/flowmesh/extension"
	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/dao/store"
	"github.com/viant/x"
)

// Service stores node registrations and answers class lookups for the
// template validator and the dispatcher.
type Service struct {
	registrations dao.Service[string, graph.Registration]
	types         *extension.Types
}

// New creates a registry service sharing the given type registry.
func New(types *extension.Types) *Service {
	if types == nil {
		types = extension.NewTypes()
	}
	return &Service{
		registrations: store.NewMemoryStore[string, graph.Registration](
			func(r *graph.Registration) string { return r.Key() },
			func(r *graph.Registration) *graph.Registration { return r.Clone() },
			func(r *graph.Registration, name string) (string, bool) {
				switch name {
				case "Namespace":
					return r.Namespace, true
				case "RuntimeName":
					return r.RuntimeName, true
				}
				return "", false
			},
		),
		types: types,
	}
}

// Types exposes the shared type registry.
func (s *Service) Types() *extension.Types { return s.types }

// Register validates and saves a registration, preserving the original
// creation time on re-registration.
func (s *Service) Register(ctx context.Context, registration *graph.Registration) error {
	if registration == nil {
		return dao.ErrNilEntity
	}
	if registration.Namespace == "" || registration.RuntimeName == "" {
		return fmt.Errorf("registry: namespace and runtime name are required")
	}
	if len(registration.Nodes) == 0 {
		return fmt.Errorf("registry: registration %s declares no node classes", registration.Key())
	}
	seen := map[string]bool{}
	for _, node := range registration.Nodes {
		if node.Name == "" {
			return fmt.Errorf("registry: registration %s contains an unnamed node class", registration.Key())
		}
		if seen[node.Name] {
			return fmt.Errorf("registry: registration %s declares node class %q twice", registration.Key(), node.Name)
		}
		seen[node.Name] = true
	}
	now := clock.Now()
	toSave := registration.Clone()
	toSave.CreatedAt = now
	toSave.UpdatedAt = now
	if previous, err := s.registrations.Load(ctx, registration.Key()); err == nil {
		toSave.CreatedAt = previous.CreatedAt
	}
	return s.registrations.Save(ctx, toSave)
}

// RegisterTyped derives a node signature's output schema from a Go value,
// records its type in the shared registry, and returns the signature for
// inclusion in a Registration.
func (s *Service) RegisterTyped(name string, output interface{}, secrets ...string) *graph.NodeSignature {
	rType := reflect.TypeOf(output)
	s.types.Register(x.NewType(rType, x.WithName(name)))
	return &graph.NodeSignature{
		Name:    name,
		Outputs: extension.Schema(rType),
		Secrets: secrets,
	}
}

// Lookup returns the signature of a node class within a namespace, or
// dao.ErrNotFound when no runtime registered it.
func (s *Service) Lookup(ctx context.Context, namespace, nodeName string) (*graph.NodeSignature, error) {
	registrations, err := s.registrations.List(ctx, dao.NewParameter("Namespace", namespace))
	if err != nil {
		return nil, err
	}
	for _, registration := range registrations {
		if signature := registration.Lookup(nodeName); signature != nil {
			return signature, nil
		}
	}
	return nil, dao.ErrNotFound
}

// NodeNames returns every node class registered within a namespace.
func (s *Service) NodeNames(ctx context.Context, namespace string) ([]string, error) {
	registrations, err := s.registrations.List(ctx, dao.NewParameter("Namespace", namespace))
	if err != nil {
		return nil, err
	}
	var names []string
	seen := map[string]bool{}
	for _, registration := range registrations {
		for _, node := range registration.Nodes {
			if !seen[node.Name] {
				seen[node.Name] = true
				names = append(names, node.Name)
			}
		}
	}
	return names, nil
}

// List returns registrations matching the parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*graph.Registration, error) {
	return s.registrations.List(ctx, parameters...)
}
