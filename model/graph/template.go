package graph

import (
	"github.com/flowmesh/flowmesh/policy/retry"
)

type (
	// Template is a reusable graph of typed processing nodes, unique by
	// (namespace, name). One retry policy applies uniformly to every node.
	Template struct {
		Namespace string            `json:"namespace" yaml:"namespace"`
		Name      string            `json:"name" yaml:"name"`
		Nodes     []*Node           `json:"nodes" yaml:"nodes"`
		Secrets   map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
		Retry     *retry.Policy     `json:"retry,omitempty" yaml:"retry,omitempty"`

		// Validation is recomputed on every upsert.
		Validation *Validation `json:"validation,omitempty" yaml:"-"`
	}

	// Node binds a node class to a position within the template. Identifier
	// is the graph vertex id, unique within the template.
	Node struct {
		Name       string            `json:"name" yaml:"name"`
		Identifier string            `json:"identifier" yaml:"identifier"`
		Inputs     map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
		Next       []string          `json:"next,omitempty" yaml:"next,omitempty"`
		Unites     *Unites           `json:"unites,omitempty" yaml:"unites,omitempty"`
		Secrets    []string          `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	}

	// Unites declares a synchronization barrier: the node waits for the
	// cohort fanned out at the upstream Identifier before executing once.
	Unites struct {
		Identifier string        `json:"identifier" yaml:"identifier"`
		Strategy   UniteStrategy `json:"strategy" yaml:"strategy"`
	}

	// UniteStrategy selects the cohort completion rule.
	UniteStrategy string
)

const (
	// UniteAllSuccess creates the uniting state only when every cohort
	// member reaches SUCCESS. A terminal ERRORED member permanently
	// withholds creation for that fingerprint.
	UniteAllSuccess UniteStrategy = "ALL_SUCCESS"

	// UniteAllDone creates the uniting state once every cohort member
	// reaches any terminal status.
	UniteAllDone UniteStrategy = "ALL_DONE"
)

// NewTemplate creates an empty template for the given namespace and name.
func NewTemplate(namespace, name string) *Template {
	return &Template{Namespace: namespace, Name: name, Secrets: map[string]string{}}
}

// NewNode appends a node occurrence to the template.
func (t *Template) NewNode(name, identifier string) *Node {
	node := &Node{Name: name, Identifier: identifier, Inputs: map[string]string{}}
	t.Nodes = append(t.Nodes, node)
	return node
}

// WithRetry sets the template-wide retry policy.
func (t *Template) WithRetry(policy *retry.Policy) *Template {
	t.Retry = policy
	return t
}

// WithSecret declares a secret name with its external resource reference.
func (t *Template) WithSecret(name, resource string) *Template {
	if t.Secrets == nil {
		t.Secrets = map[string]string{}
	}
	t.Secrets[name] = resource
	return t
}

// Lookup returns the node with the given identifier or nil.
func (t *Template) Lookup(identifier string) *Node {
	for _, node := range t.Nodes {
		if node.Identifier == identifier {
			return node
		}
	}
	return nil
}

// Feeders returns every node whose next edges include the identifier.
func (t *Template) Feeders(identifier string) []*Node {
	var ret []*Node
	for _, node := range t.Nodes {
		for _, next := range node.Next {
			if next == identifier {
				ret = append(ret, node)
				break
			}
		}
	}
	return ret
}

// Clone creates a deep copy of the template.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	clone := &Template{Namespace: t.Namespace, Name: t.Name}
	for _, node := range t.Nodes {
		clone.Nodes = append(clone.Nodes, node.Clone())
	}
	if t.Secrets != nil {
		clone.Secrets = make(map[string]string, len(t.Secrets))
		for k, v := range t.Secrets {
			clone.Secrets[k] = v
		}
	}
	if t.Retry != nil {
		policy := *t.Retry
		clone.Retry = &policy
	}
	if t.Validation != nil {
		clone.Validation = t.Validation.Clone()
	}
	return clone
}

// WithInput sets one input; the value is either a literal or a reference
// expression naming another identifier's output field.
func (n *Node) WithInput(name, value string) *Node {
	if n.Inputs == nil {
		n.Inputs = map[string]string{}
	}
	n.Inputs[name] = value
	return n
}

// WithNext appends outgoing edges.
func (n *Node) WithNext(identifiers ...string) *Node {
	n.Next = append(n.Next, identifiers...)
	return n
}

// WithUnites declares the node as a synchronization barrier on the given
// upstream fanout identifier.
func (n *Node) WithUnites(identifier string, strategy UniteStrategy) *Node {
	n.Unites = &Unites{Identifier: identifier, Strategy: strategy}
	return n
}

// WithSecrets declares the secret names the node references.
func (n *Node) WithSecrets(names ...string) *Node {
	n.Secrets = append(n.Secrets, names...)
	return n
}

// Clone creates a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{Name: n.Name, Identifier: n.Identifier}
	if n.Inputs != nil {
		clone.Inputs = make(map[string]string, len(n.Inputs))
		for k, v := range n.Inputs {
			clone.Inputs[k] = v
		}
	}
	clone.Next = append([]string(nil), n.Next...)
	clone.Secrets = append([]string(nil), n.Secrets...)
	if n.Unites != nil {
		unites := *n.Unites
		clone.Unites = &unites
	}
	return clone
}
