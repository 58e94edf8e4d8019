// Package secret resolves the credential resources a template declares for
// its nodes. Resolution goes through viant/scy so resources may point at
// local files, cloud secret managers, or inline values.
package secret

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/scy"
	"github.com/viant/scy/cred"
	"github.com/viant/toolbox"

	"github.com/flowmesh/flowmesh/service/statestore"
	"github.com/flowmesh/flowmesh/service/template"
)

// Secret is one resolved credential.
type Secret struct {
	Name      string                 `json:"name"`
	PlainText string                 `json:"plainText,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Service resolves template secrets for claimed states.
type Service struct {
	store      statestore.Service
	templates  *template.Service
	scyService *scy.Service
}

// New creates a secret service.
func New(store statestore.Service, templates *template.Service) *Service {
	return &Service{
		store:      store,
		templates:  templates,
		scyService: scy.New(),
	}
}

// GetSecrets resolves the secret set the owning node declares for the given
// state. Nodes that declare no secrets resolve to an empty map.
func (s *Service) GetSecrets(ctx context.Context, stateID string) (map[string]*Secret, error) {
	record, err := s.store.Load(ctx, stateID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templates.Get(ctx, record.Namespace, record.GraphName)
	if err != nil {
		return nil, err
	}
	node := tmpl.Lookup(record.Identifier)
	if node == nil {
		return nil, fmt.Errorf("secret: template %v/%v has no node %q", record.Namespace, record.GraphName, record.Identifier)
	}
	resolved := make(map[string]*Secret, len(node.Secrets))
	for _, name := range node.Secrets {
		resource, ok := tmpl.Secrets[name]
		if !ok {
			return nil, fmt.Errorf("secret: template %v/%v does not declare secret %q", record.Namespace, record.GraphName, name)
		}
		value, err := s.resolve(ctx, name, resource)
		if err != nil {
			return nil, err
		}
		resolved[name] = value
	}
	return resolved, nil
}

// resolve loads one secret resource. The resource string is
// "sourceURL[|target[|key]]" where target names a scy credential type and
// key an encryption key such as "blowfish://default".
func (s *Service) resolve(ctx context.Context, name, resource string) (*Secret, error) {
	sourceURL, targetName, key := splitResource(resource)
	var target interface{}
	if targetName != "" && targetName != "raw" {
		targetType, err := cred.TargetType(targetName)
		if err != nil {
			return nil, fmt.Errorf("secret: invalid target type %q for %q: %w", targetName, name, err)
		}
		if targetType != nil {
			target = targetType
		}
	}
	loaded, err := s.scyService.Load(ctx, scy.NewResource(target, sourceURL, key))
	if err != nil {
		return nil, fmt.Errorf("secret: failed to load %q from %v: %w", name, sourceURL, err)
	}
	result := &Secret{Name: name}
	if !loaded.IsPlain && loaded.Target != nil {
		data := map[string]interface{}{}
		if err := toolbox.DefaultConverter.AssignConverted(&data, loaded.Target); err != nil {
			return nil, fmt.Errorf("secret: failed to convert %q: %w", name, err)
		}
		result.Data = toolbox.DeleteEmptyKeys(data)
		return result, nil
	}
	result.PlainText = loaded.String()
	return result, nil
}

func splitResource(resource string) (sourceURL, target, key string) {
	parts := strings.SplitN(resource, "|", 3)
	sourceURL = parts[0]
	if len(parts) > 1 {
		target = parts[1]
	}
	if len(parts) > 2 {
		key = parts[2]
	}
	return sourceURL, target, key
}
