package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned by Decide for readings the engine refuses
	// to apply. The window is left untouched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfiguration is returned when an engine cannot be built from config.
	ErrConfiguration = errors.New("invalid configuration")
)

// InputError describes which reading field was rejected.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// ConfigError describes which configuration field was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }
