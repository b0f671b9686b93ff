package sim

import (
	"errors"
	"fmt"
)

// ErrUnknownParameter is wrapped by ConfigurationError when a name is not in the store.
var ErrUnknownParameter = errors.New("unknown parameter")

// ErrNotIdle is returned when Run is called on an engine that is not Idle.
var ErrNotIdle = errors.New("engine is not idle")

// ConfigurationError reports a missing, malformed, or unknown parameter.
// It is fatal to the operation that produced it.
type ConfigurationError struct {
	Parameter string
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: parameter %q: %s", e.Parameter, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func missingParameter(name string) error {
	return &ConfigurationError{Parameter: name, Reason: "required parameter is absent", Err: ErrUnknownParameter}
}

// EventApplicationError reports a scheduled event that could not be applied.
// The event is dropped and the simulation continues.
type EventApplicationError struct {
	EventType string
	Parameter string
	Reason    string
	Err       error
}

func (e *EventApplicationError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("event %q: %s", e.EventType, e.Reason)
	}
	return fmt.Sprintf("event %q: parameter %q: %s", e.EventType, e.Parameter, e.Reason)
}

func (e *EventApplicationError) Unwrap() error { return e.Err }
