package rules

import (
	"errors"
	"fmt"
)

var ErrConfiguration = errors.New("rule configuration error")

// ConfigError describes one malformed rule entry. It is isolated to the
// offending entry and never aborts detection.
type ConfigError struct {
	EventType string
	Field     string
	Value     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("rules: %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("rules: %s.%s %q: %v", e.EventType, e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}
