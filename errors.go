package linkage

import (
	"fmt"
)

// ConfigError reports a Model that cannot be started: a missing
// collaborator, an invalid setting, or two models that disagree about the
// domain. It is always returned before any stepping happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("linkage: %s: %s", e.Field, e.Reason)
}

// ContractError reports an update callback that advanced the continuum
// model by more time than it was allowed to, or by a negative amount.
type ContractError struct {
	RequestedSeconds, ActualSeconds float64
}

func (e *ContractError) Error() string {
	return fmt.Sprintf(
		"linkage: maximum dt for the update function was %g seconds, "+
			"but it ran for %g seconds", e.RequestedSeconds, e.ActualSeconds,
	)
}
