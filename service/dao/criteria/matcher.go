package criteria

import (
	"github.com/flowmesh/flowmesh/service/dao"
)

// Matches evaluates List parameters against an entity's named string fields,
// exposed through the field accessor. Unknown parameter names match
// everything so that stores stay forward compatible with new filters.
func Matches(parameters []*dao.Parameter, field func(name string) (string, bool)) bool {
	for _, parameter := range parameters {
		actual, known := field(parameter.Name)
		if !known {
			continue
		}
		switch expected := parameter.Value.(type) {
		case string:
			if actual != expected {
				return false
			}
		case []string:
			matched := false
			for _, candidate := range expected {
				if actual == candidate {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}
