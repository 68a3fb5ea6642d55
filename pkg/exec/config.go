package exec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds executive configuration. All knobs are explicit fields
// supplied at construction; there is no global configuration state.
type Config struct {
	// Name is a human-readable identity used in logs, metrics labels,
	// and thread naming diagnostics.
	Name string `yaml:"name"`

	// IgnoreCausalityViolations silently clamps past-time requests to
	// the current virtual time instead of failing them.
	IgnoreCausalityViolations bool `yaml:"ignoreCausalityViolations"`

	// RetainPastEvents keeps a fired-event history sufficient for
	// rollback. Required in the parallel variant.
	RetainPastEvents bool `yaml:"retainPastEvents"`

	// RethrowHandlerFailures aborts the run on an escaped handler panic
	// instead of logging and continuing.
	RethrowHandlerFailures bool `yaml:"rethrowHandlerFailures"`

	// Parallel enables the parallel-executive variant: exec-time,
	// rollback and pending-read barriers, addedWhen stamps, priority
	// forced to zero, synchronous events only.
	Parallel bool `yaml:"parallel"`

	// DiagnosticTraces captures a stack trace at every fiber suspension
	// for post-mortem inspection.
	DiagnosticTraces bool `yaml:"diagnosticTraces"`
}

// LoadConfig reads an executive configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
