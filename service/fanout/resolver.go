package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/viant/structology/conv"

	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/statestore"
	"github.com/flowmesh/flowmesh/service/template/reference"
)

// Resolver materializes a node's declared inputs from upstream outputs.
// Literal values pass through unchanged; reference expressions resolve
// against the nearest ancestor occurrence of the referenced identifier.
// When several ancestors match at the same depth (a unites barrier fed by a
// cohort), the resolved values aggregate into a JSON array string.
type Resolver struct {
	store     statestore.Service
	converter *conv.Converter
}

// NewResolver creates a resolver over the given store.
func NewResolver(store statestore.Service) *Resolver {
	options := conv.DefaultOptions()
	options.IgnoreUnmapped = true
	return &Resolver{store: store, converter: conv.NewConverter(options)}
}

// Resolve builds the input map for a new occurrence of node whose direct
// parents are the given states.
func (r *Resolver) Resolve(ctx context.Context, node *graph.Node, parents []*state.State) (map[string]string, error) {
	inputs := make(map[string]string, len(node.Inputs))
	for name, value := range node.Inputs {
		resolved, err := r.resolveValue(ctx, value, parents)
		if err != nil {
			return nil, fmt.Errorf("fanout: resolve input %q of node %q: %w", name, node.Identifier, err)
		}
		inputs[name] = resolved
	}
	return inputs, nil
}

func (r *Resolver) resolveValue(ctx context.Context, value string, parents []*state.State) (string, error) {
	refs := reference.Parse(value)
	if len(refs) == 0 {
		return value, nil
	}
	if ref, ok := reference.Expression(value); ok {
		values, err := r.resolveReference(ctx, ref, parents)
		if err != nil {
			return "", err
		}
		return renderValues(values)
	}
	resolved := value
	for _, ref := range refs {
		values, err := r.resolveReference(ctx, ref, parents)
		if err != nil {
			return "", err
		}
		rendered, err := renderValues(values)
		if err != nil {
			return "", err
		}
		resolved = strings.Replace(resolved, ref.Raw, rendered, 1)
	}
	return resolved, nil
}

func (r *Resolver) resolveReference(ctx context.Context, ref *reference.Reference, parents []*state.State) ([]string, error) {
	producers, err := r.producers(ctx, ref.Identifier, parents)
	if err != nil {
		return nil, err
	}
	if len(producers) == 0 {
		return nil, fmt.Errorf("no upstream occurrence of %q", ref.Identifier)
	}
	values := make([]string, 0, len(producers))
	for _, producer := range producers {
		value, err := r.extractField(producer.Outputs, ref.Field)
		if err != nil {
			return nil, fmt.Errorf("output %q of %q: %w", ref.Field, ref.Identifier, err)
		}
		values = append(values, value)
	}
	return values, nil
}

// producers walks ancestry breadth-first and returns every state matching
// the identifier at the nearest depth, in creation order.
func (r *Resolver) producers(ctx context.Context, identifier string, parents []*state.State) ([]*state.State, error) {
	visited := map[string]bool{}
	frontier := parents
	for len(frontier) > 0 {
		var matches []*state.State
		var next []*state.State
		for _, candidate := range frontier {
			if candidate == nil || visited[candidate.ID] {
				continue
			}
			visited[candidate.ID] = true
			if candidate.Identifier == identifier {
				if candidate.Outputs != nil {
					matches = append(matches, candidate)
				}
				continue
			}
			for _, parentID := range candidate.ParentIDs {
				parent, err := r.store.Load(ctx, parentID)
				if err != nil {
					return nil, err
				}
				next = append(next, parent)
			}
		}
		if len(matches) > 0 {
			sort.Slice(matches, func(i, j int) bool {
				if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
					return matches[i].ID < matches[j].ID
				}
				return matches[i].CreatedAt.Before(matches[j].CreatedAt)
			})
			return matches, nil
		}
		frontier = next
	}
	return nil, nil
}

// renderValues renders one value as-is, several as a JSON array.
func renderValues(values []string) (string, error) {
	if len(values) == 1 {
		return values[0], nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractField returns the named output field; a dotted path traverses a
// JSON object stored in the root field.
func (r *Resolver) extractField(outputs map[string]string, field string) (string, error) {
	root := field
	rest := ""
	if idx := strings.IndexByte(field, '.'); idx != -1 {
		root, rest = field[:idx], field[idx+1:]
	}
	value, ok := outputs[root]
	if !ok {
		return "", fmt.Errorf("field %q is absent", root)
	}
	if rest == "" {
		return value, nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return "", fmt.Errorf("field %q is not a JSON object: %w", root, err)
	}
	for _, segment := range strings.Split(rest, ".") {
		object, ok := decoded.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("path %q does not traverse an object", field)
		}
		decoded, ok = object[segment]
		if !ok {
			return "", fmt.Errorf("path %q is absent", field)
		}
	}
	return r.stringify(decoded)
}

func (r *Resolver) stringify(value interface{}) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case nil:
		return "", nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(typed)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	var out string
	if err := r.converter.Convert(value, &out); err != nil {
		return "", err
	}
	return out, nil
}
