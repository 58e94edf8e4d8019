package graph

import "time"

// ValidationStatus is the outcome of template validation. Because node
// schemas may depend on runtimes connecting asynchronously, PENDING is a
// legitimate transient outcome.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "VALID"
	ValidationInvalid ValidationStatus = "INVALID"
	ValidationPending ValidationStatus = "PENDING"
)

// Validation records the latest validation pass over a template.
type Validation struct {
	Status    ValidationStatus `json:"status"`
	Errors    []string         `json:"errors,omitempty"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// Clone creates a copy of the validation record.
func (v *Validation) Clone() *Validation {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Errors = append([]string(nil), v.Errors...)
	return &clone
}
