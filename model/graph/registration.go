package graph

import "time"

// Registration records which runtime serves which node classes within a
// namespace. Registrations live as rows in the shared store so that every
// engine instance observes a consistent view.
type Registration struct {
	Namespace   string           `json:"namespace"`
	RuntimeName string           `json:"runtimeName"`
	Nodes       []*NodeSignature `json:"nodes"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NodeSignature declares a node class: its input/output field schemas and
// the secret names it expects at execution time.
type NodeSignature struct {
	Name    string            `json:"name"`
	Inputs  map[string]string `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Secrets []string          `json:"secrets,omitempty"`
}

// Key returns the store key of the registration.
func (r *Registration) Key() string { return r.Namespace + "/" + r.RuntimeName }

// Lookup returns the signature of the named node class or nil.
func (r *Registration) Lookup(name string) *NodeSignature {
	for _, node := range r.Nodes {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// HasOutput reports whether the node class declares the output field.
func (n *NodeSignature) HasOutput(field string) bool {
	_, ok := n.Outputs[field]
	return ok
}

// Clone creates a deep copy of the registration.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Nodes = make([]*NodeSignature, 0, len(r.Nodes))
	for _, node := range r.Nodes {
		sig := &NodeSignature{Name: node.Name}
		if node.Inputs != nil {
			sig.Inputs = make(map[string]string, len(node.Inputs))
			for k, v := range node.Inputs {
				sig.Inputs[k] = v
			}
		}
		if node.Outputs != nil {
			sig.Outputs = make(map[string]string, len(node.Outputs))
			for k, v := range node.Outputs {
				sig.Outputs[k] = v
			}
		}
		sig.Secrets = append([]string(nil), node.Secrets...)
		clone.Nodes = append(clone.Nodes, sig)
	}
	return &clone
}
