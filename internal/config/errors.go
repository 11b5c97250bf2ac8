package config

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid session init input. It is fatal to session start.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError outside this package.
func NewConfigError(field, format string, a ...any) *ConfigError {
	return newConfigError(field, format, a...)
}

func newConfigError(field, format string, a ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// AsConfigError returns the wrapped ConfigError, if any.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
