package flowmesh

import (
	"fmt"

	"github.com/flowmesh/flowmesh/service/dispatch"
	"github.com/flowmesh/flowmesh/service/template"
)

// Config is a serialisable representation of the engine configuration. The
// zero value is useful: nested fields inherit their package defaults.
type Config struct {
	Dispatch   dispatch.Config `json:"dispatch" yaml:"dispatch"`
	Validation template.Config `json:"validation" yaml:"validation"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New via
// WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Dispatch:   dispatch.DefaultConfig(),
		Validation: template.DefaultConfig(),
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Dispatch.PollInterval < 0 {
		return fmt.Errorf("dispatch.pollInterval must be >= 0")
	}
	if c.Dispatch.DefaultBatchSize < 0 {
		return fmt.Errorf("dispatch.defaultBatchSize must be >= 0")
	}
	if c.Dispatch.LeaseDuration < 0 {
		return fmt.Errorf("dispatch.leaseDuration must be >= 0")
	}
	if c.Validation.Timeout < 0 {
		return fmt.Errorf("validation.timeout must be >= 0")
	}
	if c.Validation.PollInterval < 0 {
		return fmt.Errorf("validation.pollInterval must be >= 0")
	}
	return nil
}
