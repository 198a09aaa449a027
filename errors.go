package polarize

import (
	"fmt"
)

// ConfigError reports an invalid setting. The engine is left unchanged.
type ConfigError struct {
	Setting string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("polarize: invalid %s: %s: %v", e.Setting, e.Reason, e.Err)
	}
	return fmt.Sprintf("polarize: invalid %s: %s", e.Setting, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TopologyError reports input arrays that do not describe a consistent
// system: wrong lengths, site counts that disagree with the monomer table,
// unknown monomer types, or halo tags without an owner.
type TopologyError struct {
	Reason string
	Err    error
}

func (e *TopologyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("polarize: %s: %v", e.Reason, e.Err)
	}
	return "polarize: " + e.Reason
}

func (e *TopologyError) Unwrap() error { return e.Err }

func topologyf(format string, args ...interface{}) error {
	return &TopologyError{Reason: fmt.Sprintf(format, args...)}
}

func checkLen(name string, x []float64, n int) error {
	if len(x) != n {
		return topologyf("%s has %d values, expected %d", name, len(x), n)
	}
	return nil
}
