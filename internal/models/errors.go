package models

import (
	"errors"
	"fmt"
)

// ConfigurationError is raised before any record is processed when the
// requested run cannot be set up (unknown feature, empty channel list, ...)
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError is a shorthand for building a ConfigurationError
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DecodeError reports a malformed or missing container or plane.
// Index is the plane index (-1 when the whole container failed) and
// Channel the channel id (-1 when not applicable).
type DecodeError struct {
	Path    string
	Index   int
	Channel int
	Err     error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
	case e.Channel < 0:
		return fmt.Sprintf("decode %s plane %d: %v", e.Path, e.Index, e.Err)
	default:
		return fmt.Sprintf("decode %s plane %d channel %d: %v", e.Path, e.Index, e.Channel, e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ComputationError reports a feature function failing on one channel
type ComputationError struct {
	Feature string
	Channel int
	Err     error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("feature %s on channel %d: %v", e.Feature, e.Channel, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }
