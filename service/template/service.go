// Package template stores graph templates and validates them on upsert.
// Validation is bounded: structural problems yield INVALID immediately, while
// node classes whose runtime has not connected yet are polled for until the
// configured timeout, after which the template is left PENDING.
package template

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/dao/store"
	"github.com/flowmesh/flowmesh/service/meta"
	"github.com/flowmesh/flowmesh/service/registry"
	"github.com/flowmesh/flowmesh/service/template/reference"
)

// Config bounds one validation pass.
type Config struct {
	// Timeout caps how long Upsert waits for missing node classes.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// PollInterval is the delay between registry re-checks.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
}

// DefaultConfig returns validation bounds suitable for interactive upserts.
func DefaultConfig() Config {
	return Config{Timeout: 3 * time.Second, PollInterval: 100 * time.Millisecond}
}

// Service is the graph template registry.
type Service struct {
	templates   dao.Service[string, graph.Template]
	registry    *registry.Service
	metaService *meta.Service
	config      Config
}

// New creates a template service.
func New(registryService *registry.Service, metaService *meta.Service, config Config) *Service {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	return &Service{
		templates: store.NewMemoryStore[string, graph.Template](
			func(t *graph.Template) string { return templateKey(t.Namespace, t.Name) },
			func(t *graph.Template) *graph.Template { return t.Clone() },
			func(t *graph.Template, name string) (string, bool) {
				switch name {
				case "Namespace":
					return t.Namespace, true
				case "Name":
					return t.Name, true
				}
				return "", false
			},
		),
		registry:    registryService,
		metaService: metaService,
		config:      config,
	}
}

func templateKey(namespace, name string) string { return namespace + "/" + name }

// Upsert validates and stores the template, returning the stored copy with
// its validation record. Storing happens regardless of the outcome so that
// callers can inspect INVALID and PENDING templates; only VALID templates
// are runnable.
func (s *Service) Upsert(ctx context.Context, template *graph.Template) (*graph.Template, error) {
	if template == nil {
		return nil, dao.ErrNilEntity
	}
	if template.Namespace == "" || template.Name == "" {
		return nil, fmt.Errorf("template: namespace and name are required")
	}
	toSave := template.Clone()
	toSave.Validation = s.validate(ctx, toSave)
	if err := s.templates.Save(ctx, toSave); err != nil {
		return nil, err
	}
	return toSave, nil
}

// Load reads a YAML template document and upserts it.
func (s *Service) Load(ctx context.Context, URL string) (*graph.Template, error) {
	if s.metaService == nil {
		return nil, fmt.Errorf("template: no meta service configured")
	}
	template := &graph.Template{}
	if err := s.metaService.Load(ctx, URL, template); err != nil {
		return nil, err
	}
	return s.Upsert(ctx, template)
}

// Get returns the stored template or dao.ErrNotFound.
func (s *Service) Get(ctx context.Context, namespace, name string) (*graph.Template, error) {
	return s.templates.Load(ctx, templateKey(namespace, name))
}

// Runnable returns the template only when its latest validation is VALID.
func (s *Service) Runnable(ctx context.Context, namespace, name string) (*graph.Template, error) {
	template, err := s.Get(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if template.Validation == nil || template.Validation.Status != graph.ValidationValid {
		status := graph.ValidationPending
		if template.Validation != nil {
			status = template.Validation.Status
		}
		return nil, fmt.Errorf("template: %s/%s is not runnable, validation status %s", namespace, name, status)
	}
	return template, nil
}

// List returns templates matching the parameters.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*graph.Template, error) {
	return s.templates.List(ctx, parameters...)
}

// validate runs the structural checks, then polls the node registry for
// missing classes until the timeout.
func (s *Service) validate(ctx context.Context, template *graph.Template) *graph.Validation {
	validation := &graph.Validation{CheckedAt: clock.Now()}
	if issues := s.structuralIssues(template); len(issues) > 0 {
		validation.Status = graph.ValidationInvalid
		validation.Errors = issues
		return validation
	}

	deadline := clock.Now().Add(s.config.Timeout)
	for {
		missing := s.missingClasses(ctx, template)
		if len(missing) == 0 {
			break
		}
		if clock.Now().After(deadline) || ctx.Err() != nil {
			validation.Status = graph.ValidationPending
			for _, name := range missing {
				validation.Errors = append(validation.Errors, fmt.Sprintf("node class %q is not registered in namespace %q", name, template.Namespace))
			}
			return validation
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.config.PollInterval):
		}
	}

	if issues := s.schemaIssues(ctx, template); len(issues) > 0 {
		validation.Status = graph.ValidationInvalid
		validation.Errors = issues
		return validation
	}
	validation.Status = graph.ValidationValid
	return validation
}

// structuralIssues checks everything that does not depend on the registry.
func (s *Service) structuralIssues(template *graph.Template) []string {
	var issues []string
	if len(template.Nodes) == 0 {
		return []string{"template declares no nodes"}
	}
	if err := template.Retry.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	identifiers := map[string]bool{}
	for _, node := range template.Nodes {
		if node.Identifier == "" {
			issues = append(issues, fmt.Sprintf("node class %q has no identifier", node.Name))
			continue
		}
		if identifiers[node.Identifier] {
			issues = append(issues, fmt.Sprintf("identifier %q is declared more than once", node.Identifier))
		}
		identifiers[node.Identifier] = true
	}

	for _, node := range template.Nodes {
		for _, next := range node.Next {
			if !identifiers[next] {
				issues = append(issues, fmt.Sprintf("node %q lists unknown next identifier %q", node.Identifier, next))
			}
			if next == node.Identifier {
				issues = append(issues, fmt.Sprintf("node %q lists itself as next", node.Identifier))
			}
		}
		if node.Unites != nil {
			if !identifiers[node.Unites.Identifier] {
				issues = append(issues, fmt.Sprintf("node %q unites on unknown identifier %q", node.Identifier, node.Unites.Identifier))
			}
			switch node.Unites.Strategy {
			case graph.UniteAllSuccess, graph.UniteAllDone:
			default:
				issues = append(issues, fmt.Sprintf("node %q uses unknown unites strategy %q", node.Identifier, node.Unites.Strategy))
			}
		}
		for _, secret := range node.Secrets {
			if _, ok := template.Secrets[secret]; !ok {
				issues = append(issues, fmt.Sprintf("node %q references undeclared secret %q", node.Identifier, secret))
			}
		}
	}

	if cycle := findCycle(template); cycle != "" {
		issues = append(issues, fmt.Sprintf("next edges form a cycle through %q", cycle))
	}
	return issues
}

// missingClasses returns the node class names no runtime has registered.
func (s *Service) missingClasses(ctx context.Context, template *graph.Template) []string {
	if s.registry == nil {
		return nil
	}
	missing := map[string]bool{}
	for _, node := range template.Nodes {
		if _, err := s.registry.Lookup(ctx, template.Namespace, node.Name); err != nil {
			missing[node.Name] = true
		}
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// schemaIssues resolves every input reference against the referenced node's
// declared output schema.
func (s *Service) schemaIssues(ctx context.Context, template *graph.Template) []string {
	var issues []string
	for _, node := range template.Nodes {
		for inputName, value := range node.Inputs {
			for _, ref := range reference.Parse(value) {
				target := template.Lookup(ref.Identifier)
				if target == nil {
					issues = append(issues, fmt.Sprintf("node %q input %q references unknown identifier %q", node.Identifier, inputName, ref.Identifier))
					continue
				}
				if target.Identifier == node.Identifier {
					issues = append(issues, fmt.Sprintf("node %q input %q references itself", node.Identifier, inputName))
					continue
				}
				if !upstream(template, target.Identifier, node.Identifier) {
					issues = append(issues, fmt.Sprintf("node %q input %q references %q which is not upstream", node.Identifier, inputName, ref.Identifier))
					continue
				}
				if s.registry == nil {
					continue
				}
				signature, err := s.registry.Lookup(ctx, template.Namespace, target.Name)
				if err != nil {
					continue
				}
				if len(signature.Outputs) > 0 && !signature.HasOutput(rootField(ref.Field)) {
					issues = append(issues, fmt.Sprintf("node %q input %q references output %q which class %q does not declare", node.Identifier, inputName, ref.Field, target.Name))
				}
			}
		}
	}
	return issues
}

func rootField(field string) string {
	for i := 0; i < len(field); i++ {
		if field[i] == '.' {
			return field[:i]
		}
	}
	return field
}

// findCycle returns an identifier on a next-edge cycle, or "".
func findCycle(template *graph.Template) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(identifier string) string
	visit = func(identifier string) string {
		color[identifier] = grey
		node := template.Lookup(identifier)
		if node != nil {
			for _, next := range node.Next {
				switch color[next] {
				case grey:
					return next
				case white:
					if found := visit(next); found != "" {
						return found
					}
				}
			}
		}
		color[identifier] = black
		return ""
	}
	for _, node := range template.Nodes {
		if color[node.Identifier] == white {
			if found := visit(node.Identifier); found != "" {
				return found
			}
		}
	}
	return ""
}

// upstream reports whether from can reach to via next edges or a unites
// barrier on a node fed by from.
func upstream(template *graph.Template, from, to string) bool {
	visited := map[string]bool{}
	var walk func(identifier string) bool
	walk = func(identifier string) bool {
		if identifier == to {
			return true
		}
		if visited[identifier] {
			return false
		}
		visited[identifier] = true
		node := template.Lookup(identifier)
		if node == nil {
			return false
		}
		for _, next := range node.Next {
			if walk(next) {
				return true
			}
		}
		for _, candidate := range template.Nodes {
			if candidate.Unites != nil && candidate.Unites.Identifier == identifier {
				if walk(candidate.Identifier) {
					return true
				}
			}
		}
		return false
	}
	return walk(from)
}
